package push

import "context"

// DetailGatewayNotConfigured is reported when no FCM project is configured
const DetailGatewayNotConfigured = "gateway_not_configured"

// DisabledSender stands in for Client when FCM credentials are absent
type DisabledSender struct{}

// Send never performs I/O
func (DisabledSender) Send(ctx context.Context, token, title, body string) (Result, error) {
	if token == "" {
		return Result{Outcome: OutcomeSkipped, Detail: DetailMissingToken}, nil
	}
	return Result{Outcome: OutcomeSkipped, Detail: DetailGatewayNotConfigured}, nil
}
