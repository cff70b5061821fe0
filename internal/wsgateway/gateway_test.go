package wsgateway_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/auth"
	"github.com/brokerx/market-service/internal/wsgateway"
)

type noopAuthenticator struct{}

func (noopAuthenticator) Authenticate(ctx context.Context, header string) (auth.Identity, error) {
	return auth.Identity{UserID: auth.AnonymousUserID}, nil
}

func TestDeliver_UnknownSessionIsANoop(t *testing.T) {
	g := wsgateway.NewGateway(noopAuthenticator{}, zap.NewNop())

	if err := g.Deliver(context.Background(), "/user/ghost-session/queue/subscription", []byte(`{}`)); err != nil {
		t.Errorf("Deliver to an unknown session must not error, got %v", err)
	}
}

func TestDeliver_DestinationWithNoSubscribersIsANoop(t *testing.T) {
	g := wsgateway.NewGateway(noopAuthenticator{}, zap.NewNop())

	if err := g.Deliver(context.Background(), "/topic/market/AAPL", []byte(`{}`)); err != nil {
		t.Errorf("Deliver to a destination with no subscribers must not error, got %v", err)
	}
}
