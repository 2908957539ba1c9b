package etc

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func NewFreshID() string {
	return uuid.New().String()
}

// Stamp is the millisecond suffix used for per-utterance file names.
func Stamp(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixMilli())
}
