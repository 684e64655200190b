package changes

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/entity"
	"github.com/faucetdb/cistern/internal/generic"
)

// ValueEncoder turns a bound parameter into a driver argument.
type ValueEncoder interface {
	Encode(p *entity.Parameter) any
}

// EncoderFor returns the value encoder of d. DATE values are sent in UTC,
// and BOOLEAN values become 1/0 on databases that store them as numbers.
func EncoderFor(d dialect.Dialect) ValueEncoder {
	driverBool := strings.ToLower(d.Types().DriverType(generic.Boolean))
	return encoder{numericBool: strings.HasPrefix(driverBool, "number")}
}

type encoder struct {
	numericBool bool
}

func (e encoder) Encode(p *entity.Parameter) any {
	switch v := p.Value.Interface().(type) {
	case time.Time:
		return v.UTC()
	case bool:
		if e.numericBool {
			if v {
				return int64(1)
			}
			return int64(0)
		}
	}
	return p.Value.Arg()
}

// Statement is one generated SQL statement with its bound parameters.
// Statements produced by one bind share a Batch id.
type Statement struct {
	SQL     string
	Params  []*entity.Parameter
	Encoder ValueEncoder
	Entity  string
	Batch   uuid.UUID
}

// Args encodes the bound parameters in order.
func (s *Statement) Args() []any {
	args := make([]any, len(s.Params))
	for i, p := range s.Params {
		if s.Encoder != nil {
			args[i] = s.Encoder.Encode(p)
		} else {
			args[i] = p.Value.Arg()
		}
	}
	return args
}

func (s *Statement) String() string { return s.SQL }
