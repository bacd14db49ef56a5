package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"accessgate.dev/internal/ids"
)

// smoke-portal drives a running API through the staff and portal surfaces:
// create a link, request a passcode, close the resource and confirm the
// link no longer resolves. The bearer token comes from `portalctl token mint`.
// Verification is not exercised: the default log notifier redacts passcodes,
// so only a deployment with a real notifier can complete the sign-in.
func main() {
	base := strings.TrimRight(os.Getenv("ACCESSGATE_API_URL"), "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	token := os.Getenv("ACCESSGATE_SMOKE_TOKEN")
	if token == "" {
		log.Fatal("ACCESSGATE_SMOKE_TOKEN is required (portalctl token mint <principal-id>)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := client{base: base, bearer: token, http: &http.Client{Timeout: 5 * time.Second}}

	if status, _, err := c.do(ctx, http.MethodGet, "/readyz", "", nil); err != nil || status != http.StatusOK {
		log.Fatalf("readyz: status=%d err=%v", status, err)
	}

	resource := "smoke-" + ids.New()
	var created struct {
		Link struct {
			ID string `json:"id"`
		} `json:"link"`
		Token string `json:"token"`
	}
	status, body, err := c.do(ctx, http.MethodPost, "/v1/links", c.bearer, map[string]any{
		"resource_id":    resource,
		"stakeholder_id": "smoke-stakeholder",
		"contact_email":  "smoke@example.com",
	})
	if err != nil || status != http.StatusCreated {
		log.Fatalf("create link: status=%d err=%v body=%s", status, err, body)
	}
	if err := json.Unmarshal(body, &created); err != nil || created.Token == "" {
		log.Fatalf("create link: bad response %s", body)
	}

	status, body, err = c.do(ctx, http.MethodPost, "/v1/portal/otp", "", map[string]string{"token": created.Token})
	if err != nil || status != http.StatusAccepted {
		log.Fatalf("request otp: status=%d err=%v body=%s", status, err, body)
	}

	status, body, err = c.do(ctx, http.MethodPost, "/v1/resources/"+resource+"/close", c.bearer, nil)
	if err != nil || status != http.StatusOK {
		log.Fatalf("close resource: status=%d err=%v body=%s", status, err, body)
	}

	status, body, err = c.do(ctx, http.MethodPost, "/v1/portal/otp", "", map[string]string{"token": created.Token})
	if err != nil {
		log.Fatalf("request otp after close: %v", err)
	}
	if status != http.StatusNotFound {
		log.Fatalf("revoked link still answers: status=%d body=%s", status, body)
	}

	fmt.Printf("✅ portal smoke test passed: link=%s resource=%s\n", created.Link.ID, resource)
}

type client struct {
	base   string
	bearer string
	http   *http.Client
}

func (c client) do(ctx context.Context, method, path, bearer string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, body, err
}
