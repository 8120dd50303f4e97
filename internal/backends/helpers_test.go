package backends

import (
	"adslots/internal/types"
	"testing"

	"github.com/stretchr/testify/suite"
)

type HelpersTestSuite struct {
	suite.Suite
}

func TestHelpersTestSuite(t *testing.T) {
	suite.Run(t, new(HelpersTestSuite))
}

func (s *HelpersTestSuite) TestParseBackends() {
	names, err := ParseBackends(" Redis, memory,,redis ,sns")
	s.Require().NoError(err)
	s.Equal([]string{"redis", "memory", "sns"}, names)

	names, err = ParseBackends("")
	s.NoError(err)
	s.Empty(names)

	_, err = ParseBackends("memory,kafka")
	s.ErrorIs(err, types.ErrInvalidBackend)
}

func (s *HelpersTestSuite) TestDefaultIsMemory() {
	s.T().Setenv(LedgerBackendsEnvKey, "")
	sinks, err := LedgerSinksFromEnv()
	s.Require().NoError(err)
	s.Require().Len(sinks, 1)
	s.Equal("memory", sinks[0].Name())
}

func (s *HelpersTestSuite) TestSNSRequiresTopic() {
	s.T().Setenv(LedgerBackendsEnvKey, "memory,sns")
	s.T().Setenv(SNSTopicArnKey, "")
	_, err := LedgerSinksFromEnv()
	s.ErrorIs(err, types.ErrInvalidBackend)
}

func (s *HelpersTestSuite) TestSNSWithLocalEndpoint() {
	s.T().Setenv(LedgerBackendsEnvKey, "sns")
	s.T().Setenv(SNSTopicArnKey, "arn:aws:sns:us-east-1:000000000000:impressions")
	s.T().Setenv(SNSEndpointKey, "http://localhost:4566")
	s.T().Setenv("AWS_REGION", "us-east-1")
	sinks, err := LedgerSinksFromEnv()
	s.Require().NoError(err)
	s.Equal("sns", sinks[0].Name())
}

func (s *HelpersTestSuite) TestGetenvAndParseBoolean() {
	s.T().Setenv("ADSLOTS_TEST_KEY", "")
	s.Equal("fallback", getenv("ADSLOTS_TEST_KEY", "fallback"))
	s.T().Setenv("ADSLOTS_TEST_KEY", "set")
	s.Equal("set", getenv("ADSLOTS_TEST_KEY", "fallback"))

	s.True(parseBoolean("true"))
	s.True(parseBoolean("1"))
	s.False(parseBoolean("yes"))
	s.False(parseBoolean(""))
}
