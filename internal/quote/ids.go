package quote

import "math/rand/v2"

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewClientID returns prefix plus 10 random alphanumerics. The prefix is how
// the hedge executor recognizes this strategy's fills among all private
// events on the account.
func NewClientID(prefix string) string {
	return prefix + randomAlnum(10)
}

func randomAlnum(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return string(b)
}
