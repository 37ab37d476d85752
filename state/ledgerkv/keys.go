package ledgerkv

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	accountPrefix   = []byte("ledger/account/")
	completedPrefix = []byte("ledger/completed/")
	imageSeenPrefix = []byte("ledger/image-seen/")
	imagePrefix     = []byte("ledger/image/")
	unlockPrefix    = []byte("ledger/unlock/")
	spendPrefix     = []byte("ledger/spend/")
	systemConfigKey = []byte("system/config")
)

func participantKey(participant string) []byte {
	return ethcrypto.Keccak256([]byte(participant))
}

func join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func accountKey(participant string) []byte {
	return join(accountPrefix, participantKey(participant))
}

func completedKey(participant string, event common.Hash) []byte {
	return join(completedPrefix, participantKey(participant), event.Bytes())
}

func imageSeenKey(participant string, event common.Hash) []byte {
	return join(imageSeenPrefix, participantKey(participant), event.Bytes())
}

func imageKey(participant string, event common.Hash, nanos uint64, id []byte) []byte {
	return join(imagePrefix, participantKey(participant), event.Bytes(), be64(nanos), id)
}

func unlockKey(participant, achievementID string) []byte {
	return join(unlockPrefix, participantKey(participant), ethcrypto.Keccak256([]byte(achievementID)))
}

func unlockParticipantPrefix(participant string) []byte {
	return join(unlockPrefix, participantKey(participant))
}

// Spend keys sort by time within a participant so listing needs no extra sort.
func spendKey(participant string, nanos uint64, id []byte) []byte {
	return join(spendPrefix, participantKey(participant), be64(nanos), id)
}

func spendParticipantPrefix(participant string) []byte {
	return join(spendPrefix, participantKey(participant))
}

func be64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
