package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"p2plend/core/state"
	"p2plend/crypto"
	"p2plend/native/lending"
	"p2plend/observability"
	"p2plend/services/lendingd/journal"
)

var errSignerRequired = errors.New("signer required")

func decodeRequest(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeStatusError(w, http.StatusBadRequest, "BadRequest", err.Error())
}

func requireSigner(signer crypto.Address) error {
	if signer.IsZero() {
		return errSignerRequired
	}
	return nil
}

func pathAddress(r *http.Request, key string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, key))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return addr, nil
}

func queryAddress(r *http.Request, key string) (*crypto.Address, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &addr, nil
}

type initMarketRequest struct {
	Signer         crypto.Address `json:"signer"`
	FeeRecipient   crypto.Address `json:"feeRecipient"`
	LenderFeeBps   uint64         `json:"lenderFeeBps"`
	BorrowerFeeBps uint64         `json:"borrowerFeeBps"`
}

func (s *Server) initMarket(w http.ResponseWriter, r *http.Request) {
	var req initMarketRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := requireSigner(req.Signer); err != nil {
		writeBadRequest(w, err)
		return
	}
	var market *lending.MarketConfig
	err := s.execute(r.Context(), "init_market", req.Signer, func(engine *lending.Engine) error {
		var err error
		market, err = engine.InitMarket(req.Signer, req.FeeRecipient, req.LenderFeeBps, req.BorrowerFeeBps)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMarketView(market))
}

func (s *Server) getMarket(w http.ResponseWriter, _ *http.Request) {
	var market *lending.MarketConfig
	err := s.view(func(_ *state.Tx, engine *lending.Engine) error {
		var err error
		market, err = engine.Market()
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(market))
}

type createPairRequest struct {
	Signer          crypto.Address `json:"signer"`
	LoanAsset       string         `json:"loanAsset"`
	CollateralAsset string         `json:"collateralAsset"`
}

func (s *Server) createPair(w http.ResponseWriter, r *http.Request) {
	var req createPairRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := requireSigner(req.Signer); err != nil {
		writeBadRequest(w, err)
		return
	}
	var pair *lending.AssetPairMarket
	err := s.execute(r.Context(), "create_asset_pair", req.Signer, func(engine *lending.Engine) error {
		var err error
		pair, err = engine.CreateAssetPair(req.Signer, req.LoanAsset, req.CollateralAsset)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPairView(pair))
}

func (s *Server) getPair(w http.ResponseWriter, r *http.Request) {
	var pair *lending.AssetPairMarket
	err := s.view(func(_ *state.Tx, engine *lending.Engine) error {
		var err error
		pair, err = engine.Pair(chi.URLParam(r, "loan"), chi.URLParam(r, "collateral"))
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPairView(pair))
}

func (s *Server) listPairs(w http.ResponseWriter, _ *http.Request) {
	views := make([]pairView, 0)
	err := s.view(func(tx *state.Tx, _ *lending.Engine) error {
		pairs, err := tx.Pairs()
		if err != nil {
			return err
		}
		for _, pair := range pairs {
			views = append(views, newPairView(pair))
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pairs": views})
}

type createOfferRequest struct {
	Signer          crypto.Address `json:"signer"`
	Pair            crypto.Address `json:"pair"`
	Asset           string         `json:"asset"`
	OfferID         uint64         `json:"offerId"`
	LoanAmount      uint64         `json:"loanAmount"`
	InterestRateBps uint64         `json:"interestRateBps"`
	LTVBps          uint64         `json:"ltvBps"`
}

func (s *Server) createOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := requireSigner(req.Signer); err != nil {
		writeBadRequest(w, err)
		return
	}
	var offer *lending.LendingOffer
	err := s.execute(r.Context(), "create_offer", req.Signer, func(engine *lending.Engine) error {
		var err error
		offer, err = engine.CreateOffer(req.Signer, lending.OfferParams{
			Pair:            req.Pair,
			Asset:           req.Asset,
			OfferID:         req.OfferID,
			LoanAmount:      req.LoanAmount,
			InterestRateBps: req.InterestRateBps,
			LTVBps:          req.LTVBps,
		})
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOfferView(offer))
}

type cancelOfferRequest struct {
	Signer crypto.Address `json:"signer"`
	Offer  crypto.Address `json:"offer"`
}

func (s *Server) cancelOffer(w http.ResponseWriter, r *http.Request) {
	var req cancelOfferRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := requireSigner(req.Signer); err != nil {
		writeBadRequest(w, err)
		return
	}
	var refunded uint64
	err := s.execute(r.Context(), "cancel_offer", req.Signer, func(engine *lending.Engine) error {
		var err error
		refunded, err = engine.CancelOffer(req.Signer, req.Offer)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"offer": req.Offer, "refunded": refunded})
}

func (s *Server) getOffer(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var offer *lending.LendingOffer
	err = s.view(func(_ *state.Tx, engine *lending.Engine) error {
		var err error
		offer, err = engine.Offer(addr)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferView(offer))
}

func (s *Server) listOffers(w http.ResponseWriter, r *http.Request) {
	lender, err := queryAddress(r, "lender")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	activeOnly := strings.EqualFold(r.URL.Query().Get("active"), "true")
	views := make([]offerView, 0)
	err = s.view(func(tx *state.Tx, _ *lending.Engine) error {
		offers, err := tx.Offers()
		if err != nil {
			return err
		}
		for _, offer := range offers {
			if lender != nil && offer.Lender != *lender {
				continue
			}
			if activeOnly && !offer.IsActive {
				continue
			}
			views = append(views, newOfferView(offer))
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"offers": views})
}

type takeLoanRequest struct {
	Signer           crypto.Address `json:"signer"`
	Offer            crypto.Address `json:"offer"`
	LoanAsset        string         `json:"loanAsset"`
	CollateralAsset  string         `json:"collateralAsset"`
	CollateralAmount uint64         `json:"collateralAmount"`
}

type originationView struct {
	Loan               loanView `json:"loan"`
	RequiredCollateral uint64   `json:"requiredCollateral"`
	BorrowerFee        uint64   `json:"borrowerFee"`
	BorrowerReceives   uint64   `json:"borrowerReceives"`
}

func (s *Server) takeLoan(w http.ResponseWriter, r *http.Request) {
	var req takeLoanRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := requireSigner(req.Signer); err != nil {
		writeBadRequest(w, err)
		return
	}
	var origination *lending.Origination
	var loanAsset string
	err := s.execute(r.Context(), "take_loan", req.Signer, func(engine *lending.Engine) error {
		var err error
		origination, err = engine.TakeLoan(req.Signer, lending.TakeParams{
			Offer:            req.Offer,
			LoanAsset:        req.LoanAsset,
			CollateralAsset:  req.CollateralAsset,
			CollateralAmount: req.CollateralAmount,
		})
		if err != nil {
			return err
		}
		if pair, perr := engine.PairAt(origination.Loan.AssetPair); perr == nil {
			loanAsset = pair.LoanAsset
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	observability.Lending().AddVolume("originated", loanAsset, origination.Loan.PrincipalAmount)
	writeJSON(w, http.StatusCreated, originationView{
		Loan:               newLoanView(origination.Loan),
		RequiredCollateral: origination.RequiredCollateral,
		BorrowerFee:        origination.BorrowerFee,
		BorrowerReceives:   origination.BorrowerReceives,
	})
}

type loanRequest struct {
	Signer crypto.Address `json:"signer"`
	Loan   crypto.Address `json:"loan"`
}

type settlementView struct {
	Loan               crypto.Address `json:"loan"`
	Quote              quoteView      `json:"quote"`
	CollateralReturned uint64         `json:"collateralReturned"`
}

func (s *Server) repayLoan(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := requireSigner(req.Signer); err != nil {
		writeBadRequest(w, err)
		return
	}
	var settlement *lending.Settlement
	var loanAsset string
	err := s.execute(r.Context(), "repay_loan", req.Signer, func(engine *lending.Engine) error {
		var err error
		if loan, lerr := engine.Loan(req.Loan); lerr == nil {
			if pair, perr := engine.PairAt(loan.AssetPair); perr == nil {
				loanAsset = pair.LoanAsset
			}
		}
		settlement, err = engine.RepayLoan(req.Signer, req.Loan)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	observability.Lending().AddVolume("repaid", loanAsset, settlement.Quote.Total)
	writeJSON(w, http.StatusOK, settlementView{
		Loan:               settlement.Loan.Address,
		Quote:              newQuoteView(settlement.Quote),
		CollateralReturned: settlement.CollateralReturned,
	})
}

func (s *Server) requestRepayment(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := requireSigner(req.Signer); err != nil {
		writeBadRequest(w, err)
		return
	}
	var deadline int64
	err := s.execute(r.Context(), "request_repayment", req.Signer, func(engine *lending.Engine) error {
		var err error
		deadline, err = engine.RequestRepayment(req.Signer, req.Loan)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loan": req.Loan, "repaymentDeadline": deadline})
}

type liquidateRequest struct {
	Signer        crypto.Address `json:"signer"`
	Loan          crypto.Address `json:"loan"`
	CurrentLTVBps uint64         `json:"currentLtvBps"`
}

type liquidationView struct {
	Loan          crypto.Address `json:"loan"`
	Seized        uint64         `json:"seized"`
	CurrentLTVBps uint64         `json:"currentLtvBps"`
	Overdue       bool           `json:"overdue"`
}

func (s *Server) liquidateLoan(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := requireSigner(req.Signer); err != nil {
		writeBadRequest(w, err)
		return
	}
	var result *lending.Liquidation
	var collateralAsset string
	err := s.execute(r.Context(), "liquidate_loan", req.Signer, func(engine *lending.Engine) error {
		var err error
		if loan, lerr := engine.Loan(req.Loan); lerr == nil {
			if pair, perr := engine.PairAt(loan.AssetPair); perr == nil {
				collateralAsset = pair.CollateralAsset
			}
		}
		result, err = engine.LiquidateLoan(req.Signer, req.Loan, req.CurrentLTVBps)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	observability.Lending().AddVolume("seized", collateralAsset, result.Seized)
	writeJSON(w, http.StatusOK, liquidationView{
		Loan:          result.Loan.Address,
		Seized:        result.Seized,
		CurrentLTVBps: result.CurrentLTVBps,
		Overdue:       result.Overdue,
	})
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var loan *lending.Loan
	err = s.view(func(_ *state.Tx, engine *lending.Engine) error {
		var err error
		loan, err = engine.Loan(addr)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(loan))
}

func (s *Server) quoteLoan(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var quote lending.Quote
	err = s.view(func(_ *state.Tx, engine *lending.Engine) error {
		var err error
		quote, err = engine.QuoteRepayment(addr)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteView(quote))
}

func (s *Server) listLoans(w http.ResponseWriter, r *http.Request) {
	lender, err := queryAddress(r, "lender")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	borrower, err := queryAddress(r, "borrower")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	views := make([]loanView, 0)
	err = s.view(func(tx *state.Tx, _ *lending.Engine) error {
		loans, err := tx.Loans()
		if err != nil {
			return err
		}
		for _, loan := range loans {
			if lender != nil && loan.Lender != *lender {
				continue
			}
			if borrower != nil && loan.Borrower != *borrower {
				continue
			}
			views = append(views, newLoanView(loan))
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loans": views})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	var amount uint64
	err = s.view(func(_ *state.Tx, engine *lending.Engine) error {
		var err error
		amount, err = engine.Balance(addr, asset)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"asset":   strings.ToUpper(strings.TrimSpace(asset)),
		"amount":  amount,
	})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": []journal.Entry{}})
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	entries, err := s.journal.List(r.Context(), journal.Filter{
		Type:    query.Get("type"),
		Subject: query.Get("subject"),
		Limit:   limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	for _, entry := range entries {
		if _, err := entry.Fields(); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type pauseView struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func pauseModule(r *http.Request) (string, bool) {
	module := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "module")))
	return module, module == lending.ModuleName
}

func (s *Server) getPause(w http.ResponseWriter, r *http.Request) {
	module, ok := pauseModule(r)
	if !ok {
		writeStatusError(w, http.StatusNotFound, "UnknownModule", "unknown module "+module)
		return
	}
	paused := s.pauses != nil && s.pauses.IsPaused(module)
	writeJSON(w, http.StatusOK, pauseView{Module: module, Paused: paused})
}

func (s *Server) setPause(w http.ResponseWriter, r *http.Request) {
	module, ok := pauseModule(r)
	if !ok {
		writeStatusError(w, http.StatusNotFound, "UnknownModule", "unknown module "+module)
		return
	}
	if s.control == nil {
		writeStatusError(w, http.StatusNotImplemented, "PausesReadOnly", "pause view cannot be changed at runtime")
		return
	}
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	s.control.Set(module, req.Paused)
	s.logger.Warn("module pause changed",
		"module", module,
		"paused", req.Paused,
		"requestid", chimw.GetReqID(r.Context()))
	writeJSON(w, http.StatusOK, pauseView{Module: module, Paused: s.control.IsPaused(module)})
}
