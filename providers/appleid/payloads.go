package appleid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type tokenPayload struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type transferPayload struct {
	TransferSub string `json:"transfer_sub"`
}

type identityPayload struct {
	Sub            string   `json:"sub"`
	Email          string   `json:"email"`
	IsPrivateEmail flexBool `json:"is_private_email"`
}

// flexBool accepts true, "true" and their false counterparts; the migration
// endpoint has been seen sending either.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*b = false
		return nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
		raw = []byte(strings.TrimSpace(text))
		if len(raw) == 0 {
			*b = false
			return nil
		}
	}
	parsed, err := strconv.ParseBool(strings.ToLower(string(raw)))
	if err != nil {
		return fmt.Errorf("appleid: invalid boolean %q", string(raw))
	}
	*b = flexBool(parsed)
	return nil
}

func decodeTokenResponse(body []byte) (tokenPayload, error) {
	var payload tokenPayload
	if err := decodeJSON(body, &payload); err != nil {
		return tokenPayload{}, err
	}
	return payload, nil
}

func decodeTransferResponse(body []byte) (transferPayload, error) {
	var payload transferPayload
	if err := decodeJSON(body, &payload); err != nil {
		return transferPayload{}, err
	}
	return payload, nil
}

func decodeIdentityResponse(body []byte) (identityPayload, error) {
	var payload identityPayload
	if err := decodeJSON(body, &payload); err != nil {
		return identityPayload{}, err
	}
	return payload, nil
}

func decodeJSON(body []byte, target any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("appleid: empty response body")
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("appleid: decode response: %w", err)
	}
	return nil
}
