package state

import "p2plend/crypto"

var (
	accountPrefix = []byte("account/")
	vaultPrefix   = []byte("custody/vault/")
	marketKey     = []byte("lending/market")
	pairPrefix    = []byte("lending/pair/")
	offerPrefix   = []byte("lending/offer/")
	loanPrefix    = []byte("lending/loan/")
	genesisKey    = []byte("meta/genesis")
)

func addressKey(prefix []byte, addr crypto.Address) []byte {
	key := make([]byte, 0, len(prefix)+len(addr))
	key = append(key, prefix...)
	return append(key, addr[:]...)
}

func accountKey(addr crypto.Address) []byte { return addressKey(accountPrefix, addr) }

func vaultKey(addr crypto.Address) []byte { return addressKey(vaultPrefix, addr) }

func pairKey(addr crypto.Address) []byte { return addressKey(pairPrefix, addr) }

func offerKey(addr crypto.Address) []byte { return addressKey(offerPrefix, addr) }

func loanKey(addr crypto.Address) []byte { return addressKey(loanPrefix, addr) }
