package orders

import "crypto/rand"

const (
	refPrefix  = "Ref_"
	refCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	refLength  = 10
)

// NewPaymentRef generates an opaque payment reference: prefix plus ten random
// uppercase-alphanumeric characters. Collisions are unlikely but not
// impossible; Pay retries against the unique index on payment_reference.
func NewPaymentRef() string {
	b := make([]byte, refLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = refCharset[int(b[i])%len(refCharset)]
	}
	return refPrefix + string(b)
}
