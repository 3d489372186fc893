package procurement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name     string
		ordered  float64
		received float64
		want     Status
	}{
		{"nothing received", 100, 0, StatusOrdered},
		{"partial", 100, 40, StatusPartiallyReceived},
		{"complete", 100, 100, StatusReceived},
		{"over-receipt still complete", 100, 120, StatusReceived},
		{"fractional remainder", 100, 99.5, StatusPartiallyReceived},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveStatus(tc.ordered, tc.received))
			// same totals derive the same status every time
			require.Equal(t, DeriveStatus(tc.ordered, tc.received), DeriveStatus(tc.ordered, tc.received))
		})
	}
}

func TestStatusTransitionsAreForwardOnly(t *testing.T) {
	require.True(t, StatusReceived.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.False(t, StatusDraft.Terminal())
	require.False(t, StatusOrdered.Terminal())
	require.False(t, StatusPartiallyReceived.Terminal())

	require.True(t, StatusOrdered.Receivable())
	require.True(t, StatusPartiallyReceived.Receivable())
	require.False(t, StatusDraft.Receivable())
	require.False(t, StatusReceived.Receivable())
	require.False(t, StatusCancelled.Receivable())
}

func TestOutstanding(t *testing.T) {
	require.InDelta(t, 60, PurchaseOrderItem{OrderedQty: 100, ReceivedQty: 40}.Outstanding(), 0.0001)
	require.Zero(t, PurchaseOrderItem{OrderedQty: 100, ReceivedQty: 120}.Outstanding())
}
