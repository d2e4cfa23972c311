package consensus

import (
	"time"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/common/crypto"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
)

type Clock interface {
	TimestampMs() uint64
}

type SystemClock struct{}

func (SystemClock) TimestampMs() uint64 {
	return uint64(time.Now().UnixNano() / int64(time.Millisecond))
}

// Context is shared read-only by every component of one authority.
type Context struct {
	OwnIndex   types.AuthorityIndex
	Committee  *committee.Committee
	Parameters Parameters
	Signer     crypto.Signer
	PrivateKey crypto.PrivateKey
	Logger     *logrus.Logger
	Clock      Clock
}

func NewContext(own types.AuthorityIndex, c *committee.Committee, parameters Parameters,
	privateKey crypto.PrivateKey, logger *logrus.Logger) *Context {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Context{
		OwnIndex:   own,
		Committee:  c,
		Parameters: parameters,
		Signer:     &crypto.SignerEd25519{},
		PrivateKey: privateKey,
		Logger:     logger,
		Clock:      SystemClock{},
	}
}

func (c *Context) Epoch() uint64 {
	return c.Committee.Epoch()
}

// moduleLogger tags entries with the component name and the authority.
func (c *Context) moduleLogger(module string) *logrus.Entry {
	return c.Logger.WithFields(logrus.Fields{
		"module": module,
		"me":     c.OwnIndex,
	})
}
