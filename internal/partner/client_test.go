package partner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "http://partner.test"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewClient(Options{BaseURL: testBase + "/", APIKey: "secret", HTTPClient: hc})
}

func sampleRequest() OrderRequest {
	return OrderRequest{
		UserID:          "u1",
		FlowID:          "f1",
		LineItems:       []LineItem{{ProductID: "p1", Quantity: 2, Name: "Coffee", Price: 12.5}},
		DeliveryAddress: "Calle 1, Bogota",
		DeliveryTime:    "09:00-13:00",
		Total:           25,
	}
}

func TestCreateOrder_Success(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testBase+"/orders",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			var body map[string]interface{}
			require.NoError(t, jsonDecode(req, &body))
			assert.Equal(t, "f1", body["flowId"])
			assert.NotContains(t, body, "Total")
			return httpmock.NewStringResponse(201, `{"externalOrderId":"R-1","status":"created","estimatedDeliveryTime":"2026-10-20T10:00:00Z"}`), nil
		})

	resp, raw, err := c.CreateOrder(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "R-1", resp.ExternalOrderID)
	assert.Equal(t, "created", resp.Status)
	assert.Contains(t, string(raw), "R-1")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestCreateOrder_Non2xx(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBase+"/orders",
		httpmock.NewStringResponder(503, `upstream down`))

	_, _, err := c.CreateOrder(context.Background(), sampleRequest())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.StatusCode)
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBase+"/orders",
		httpmock.NewStringResponder(200, `not json`))

	_, _, err := c.CreateOrder(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestCreateOrder_MissingExternalID(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBase+"/orders",
		httpmock.NewStringResponder(200, `{"status":"created"}`))

	_, _, err := c.CreateOrder(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestCreateOrder_NetworkError(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBase+"/orders",
		httpmock.NewErrorResponder(errors.New("connection reset")))

	_, _, err := c.CreateOrder(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCreateOrder_RateLimitHonoursContext(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodPost, testBase+"/orders",
		httpmock.NewStringResponder(200, `{"externalOrderId":"R-1"}`))

	c := NewClient(Options{BaseURL: testBase, HTTPClient: hc, RateLimit: 0.001, Burst: 1})

	_, _, err := c.CreateOrder(context.Background(), sampleRequest())
	require.NoError(t, err)

	// the bucket is now empty and refills far beyond the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = c.CreateOrder(ctx, sampleRequest())
	require.Error(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestParseEstimatedDelivery(t *testing.T) {
	assert.Nil(t, ParseEstimatedDelivery(""))
	assert.Nil(t, ParseEstimatedDelivery("tomorrow"))
	got := ParseEstimatedDelivery("2026-10-20")
	require.NotNil(t, got)
	assert.Equal(t, 20, got.Day())
}

func jsonDecode(req *http.Request, out interface{}) error {
	defer req.Body.Close()
	return json.NewDecoder(req.Body).Decode(out)
}
