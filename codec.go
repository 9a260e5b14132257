package x402

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// EncodePaymentHeader encodes a payment payload for the X-PAYMENT header.
func EncodePaymentHeader(payload PaymentPayload) (string, error) {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}

// Base64 regex pattern - requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// DecodePaymentHeader validates and decodes an X-PAYMENT header value.
// Errors name the first offending field.
func DecodePaymentHeader(encoded string) (*PaymentPayload, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("payment header is empty")
	}
	if !base64Regex.MatchString(encoded) {
		return nil, fmt.Errorf("invalid payment header format: not valid base64")
	}

	decodedBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 string: %w", err)
	}

	// Parse JSON into a map first for validation
	var raw map[string]interface{}
	if err := json.Unmarshal(decodedBytes, &raw); err != nil {
		return nil, fmt.Errorf("invalid payment header format: not valid JSON - %v", err)
	}

	if version, ok := raw["x402Version"].(float64); !ok {
		return nil, fmt.Errorf("missing required field: x402Version")
	} else if int(version) != X402Version {
		return nil, fmt.Errorf("unsupported x402Version %v", version)
	}
	for _, field := range []string{"scheme", "network"} {
		if v, ok := raw[field].(string); !ok || v == "" {
			return nil, fmt.Errorf("missing required field: %s", field)
		}
	}
	inner, ok := raw["payload"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid field type: payload must be an object")
	}
	if tx, ok := inner["transaction"].(string); !ok || tx == "" {
		return nil, fmt.Errorf("missing required field: payload.transaction")
	}

	var payload PaymentPayload
	if err := json.Unmarshal(decodedBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment payload: %w", err)
	}
	return &payload, nil
}

// ParsePayment returns the payment proof carried by the request headers.
// It returns nil, nil when there is none. Header lookup is case-insensitive.
func ParsePayment(header http.Header) (*PaymentPayload, error) {
	if header == nil {
		return nil, nil
	}
	value := header.Get(HeaderPayment)
	if value == "" {
		// Non canonical keys set directly on the map.
		for key, values := range header {
			if strings.EqualFold(key, HeaderPayment) && len(values) > 0 {
				value = values[0]
				break
			}
		}
	}
	if value == "" {
		return nil, nil
	}
	return DecodePaymentHeader(value)
}

// ExtractPayment is ParsePayment with malformed proofs treated as absent.
func ExtractPayment(header http.Header) *PaymentPayload {
	payload, err := ParsePayment(header)
	if err != nil {
		return nil
	}
	return payload
}

// EncodePaymentResponse encodes the X-PAYMENT-RESPONSE header value.
func EncodePaymentResponse(resp PaymentResponse) (string, error) {
	jsonBytes, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}

// DecodePaymentResponse decodes an X-PAYMENT-RESPONSE header value.
func DecodePaymentResponse(encoded string) (*PaymentResponse, error) {
	decodedBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 string: %w", err)
	}

	var resp PaymentResponse
	if err := json.Unmarshal(decodedBytes, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment response: %w", err)
	}
	return &resp, nil
}

// ProofKey identifies a payment proof by the SHA256 of its transaction.
// Two headers carrying the same signed transaction share a key.
func ProofKey(payload *PaymentPayload) string {
	hash := sha256.Sum256([]byte(payload.Payload.Transaction))
	return hex.EncodeToString(hash[:])
}
