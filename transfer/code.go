package transfer

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

// codeWords is the frozen transfer-code dictionary. Codes are only
// portable between peers using the identical list, so it must not change.
var codeWords = []string{
	"ant", "bat", "cat", "dog", "eel", "fox",
	"gnu", "hen", "ibis", "jay", "kite", "lark",
	"mole", "newt", "owl", "pike", "quail", "rat",
	"seal", "toad", "vole", "wasp", "yak", "zebu",
}

// codePattern is the transfer-code grammar: <num>-<word>-<word>.
var codePattern = regexp.MustCompile(`^[0-9]+-[a-z]+-[a-z]+$`)

// NewCode generates a human-shareable transfer code. Uniqueness is
// probabilistic; the sender address disambiguates collisions on the
// receive side.
func NewCode() string {
	return fmt.Sprintf("%d-%s-%s", randomInt(100), randomWord(), randomWord())
}

// ValidCode reports whether s matches the transfer-code grammar.
func ValidCode(s string) bool {
	return codePattern.MatchString(s)
}

func randomInt(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		// crypto/rand failing is unrecoverable for this process.
		panic(fmt.Sprintf("transfer: random source failed: %v", err))
	}
	return v.Int64()
}

func randomWord() string {
	return codeWords[randomInt(int64(len(codeWords)))]
}
