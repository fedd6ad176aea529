package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// decodeResult checks the envelope of an API response and unmarshals its
// result into out. It returns the server time of the response.
func decodeResult(operation string, response interface{}, out interface{}) (time.Time, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return time.Time{}, fmt.Errorf("bybit %s: invalid response type %T", operation, response)
	}

	if serverResp.RetCode != 0 {
		return time.Time{}, &APIError{Code: serverResp.RetCode, Message: serverResp.RetMsg, Operation: operation}
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return time.Time{}, fmt.Errorf("bybit %s: failed to marshal result: %w", operation, err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return time.Time{}, fmt.Errorf("bybit %s: failed to unmarshal result: %w", operation, err)
	}

	var serverTime time.Time
	if serverResp.Time > 0 {
		serverTime = time.UnixMilli(serverResp.Time)
	}
	return serverTime, nil
}

func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	i, _ := strconv.ParseInt(s, 10, 64)
	return i
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
