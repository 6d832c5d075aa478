package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
}

func TestNewClientReturnsClient(t *testing.T) {
	c := NewClient("secret-token")
	assert.NotNil(t, c)
}

func TestWithRateLimit(t *testing.T) {
	c := NewClient("tok", WithRateLimit(10)).(*notionClient)
	assert.NotNil(t, c.limiter)
	assert.NoError(t, c.wait(context.Background()))

	c = NewClient("tok", WithRateLimit(0)).(*notionClient)
	assert.Nil(t, c.limiter)
	assert.NoError(t, c.wait(context.Background()))
}

func TestWait_CancelledContext(t *testing.T) {
	c := NewClient("tok", WithRateLimit(0.001)).(*notionClient)
	assert.NoError(t, c.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.wait(ctx))
}
