package order

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

const base36Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// CodeGenerator produces the human-facing identifiers of orders and tickets.
type CodeGenerator interface {
	OrderNumber(now time.Time) string
	TicketCode() string
}

type randomCodes struct{}

// NewCodeGenerator returns the generator used in production: order numbers
// look like ORD-<base36 millis>-<5 random chars>, ticket codes TKT-<uuid>.
func NewCodeGenerator() CodeGenerator {
	return randomCodes{}
}

func (randomCodes) OrderNumber(now time.Time) string {
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return "ORD-" + ts + "-" + randomBase36(5)
}

func (randomCodes) TicketCode() string {
	return "TKT-" + newID().String()
}

func randomBase36(n int) string {
	limit := big.NewInt(int64(len(base36Alphabet)))
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic("order: crypto/rand failed: " + err.Error())
		}
		sb.WriteByte(base36Alphabet[idx.Int64()])
	}
	return sb.String()
}

func newID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}
