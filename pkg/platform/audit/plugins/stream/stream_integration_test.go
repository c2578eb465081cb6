//go:build integration

package stream_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/audit/plugins/stream"
	"ozhi/pkg/platform/audit/store/memory"
	"ozhi/pkg/testutil/containers"
)

type StreamIntegrationSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	client   *kgo.Client
}

func TestStreamIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StreamIntegrationSuite))
}

func (s *StreamIntegrationSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
	s.client = s.redpanda.NewClient(s.T())
}

func (s *StreamIntegrationSuite) TearDownSuite() {
	s.client.Close()
}

func (s *StreamIntegrationSuite) TestLoggedEventReachesTopic() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "audit-" + uuid.NewString()
	plugin, err := stream.New(s.client,
		stream.WithTopic(topic),
		stream.WithTopicCreator(kadm.NewClient(s.client), 1, 1),
	)
	s.Require().NoError(err)

	auditor, err := audit.New(memory.NewInMemoryStore())
	s.Require().NoError(err)
	s.Require().NoError(auditor.Register(plugin))
	s.Require().NoError(auditor.Initialize(ctx))
	// a second Initialize sees TopicAlreadyExists
	s.Require().NoError(auditor.Initialize(ctx))

	scoped := audit.WithContext(ctx, audit.Context{RequestID: "r-stream", UserID: "u1"})
	s.Require().NoError(auditor.Log(scoped, audit.Input{
		Action:   "delete_user",
		Category: audit.CategoryUserManagement,
		Result:   audit.ResultSuccess,
	}))

	consumer := s.redpanda.NewClient(s.T(),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())

	var got []audit.Record
	fetches.EachRecord(func(r *kgo.Record) {
		var rec audit.Record
		s.Require().NoError(json.Unmarshal(r.Value, &rec))
		s.Equal("r-stream", string(r.Key))
		got = append(got, rec)
	})
	s.Require().Len(got, 1)
	s.Equal("delete_user", got[0].Action)
	s.Equal(audit.SeverityCritical, got[0].Severity)
	s.Equal("u1", got[0].UserID)
}
