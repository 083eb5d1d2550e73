package shoppingagent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"agent-payments/pkg/apperror"
)

// Onboard runs the registration ceremony for a wallet against the
// credential provider: passkey registration followed by method
// enrollment. Idempotent enough for boot-time use; re-registering a
// user simply replaces the stored passkey and method.
func Onboard(ctx context.Context, client *http.Client, baseURL, userID, cardBrand string, w *Wallet) error {
	if client == nil {
		client = http.DefaultClient
	}

	var reg struct {
		Data struct {
			Challenge string `json:"challenge"`
		} `json:"data"`
	}
	if err := postJSON(ctx, client, baseURL+"/register-passkey",
		map[string]any{"user_id": userID}, &reg); err != nil {
		return fmt.Errorf("register passkey: %w", err)
	}
	if reg.Data.Challenge == "" {
		return apperror.ErrMissingField("challenge")
	}

	coseKey, err := w.Device.COSEKey()
	if err != nil {
		return fmt.Errorf("encode device key: %w", err)
	}
	if err := postJSON(ctx, client, baseURL+"/complete-registration", map[string]any{
		"user_id":    userID,
		"challenge":  reg.Data.Challenge,
		"cose_key":   base64.RawURLEncoding.EncodeToString(coseKey),
		"sign_count": w.Device.SignCount(),
	}, nil); err != nil {
		return fmt.Errorf("complete registration: %w", err)
	}

	if err := postJSON(ctx, client, baseURL+"/enroll-method", map[string]any{
		"user_id": userID, "card_brand": cardBrand,
	}, nil); err != nil {
		return fmt.Errorf("enroll method: %w", err)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
