package firefly

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// DefaultGatewayURL is the app gateway that maps school codes to hostnames.
const DefaultGatewayURL = "https://appgateway.fireflysolutions.co.uk/appgateway/school/"

// appID identifies this client on the portal's device login page.
const appID = "android_tasks"

// User is the signed-in portal account.
type User struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	GUID     string `json:"guid"`
}

// gatewayResponse mirrors the app gateway XML:
// <response exists="true"><address>school.fireflycloud.net</address></response>
type gatewayResponse struct {
	Exists  string `xml:"exists,attr"`
	Address string `xml:"address"`
}

// ssoResponse mirrors the SSO XML:
// <sso><user name="..." username="..." identifier="..."/></sso>
type ssoResponse struct {
	User struct {
		Name       string `xml:"name,attr"`
		Username   string `xml:"username,attr"`
		Identifier string `xml:"identifier,attr"`
	} `xml:"user"`
}

// LookupHostname resolves a school code to the school's portal hostname via
// the app gateway. Returns ErrSchoolNotFound for unknown codes.
func (c *Client) LookupHostname(ctx context.Context, gatewayURL, schoolCode string) (string, error) {
	if gatewayURL == "" {
		gatewayURL = DefaultGatewayURL
	}

	resp, err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       gatewayURL + url.PathEscape(schoolCode),
		idempotent: true,
		anonymous:  true,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var gr gatewayResponse
	if err := xml.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("firefly: decoding gateway response: %w", err)
	}

	if gr.Exists == "false" || gr.Address == "" {
		return "", fmt.Errorf("%w: %s", ErrSchoolNotFound, schoolCode)
	}

	c.logger.Info("resolved school hostname",
		slog.String("school_code", schoolCode),
		slog.String("hostname", gr.Address),
	)

	return gr.Address, nil
}

// TokenURL returns the browser login page that issues a secret for deviceID.
func TokenURL(hostname, deviceID string) string {
	q := url.Values{}
	q.Set("app_id", appID)
	q.Set("device_id", deviceID)

	return BaseURLForHost(hostname) + "/login/api/loginui?" + q.Encode()
}

// VerifyToken reports whether the configured credentials are still valid.
func (c *Client) VerifyToken(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/login/api/verifytoken",
		idempotent: true,
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var vr struct {
		Valid bool `json:"valid"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return false, fmt.Errorf("firefly: decoding verify response: %w", err)
	}

	return vr.Valid, nil
}

// UserData fetches the signed-in user's identity from the SSO endpoint.
func (c *Client) UserData(ctx context.Context) (User, error) {
	resp, err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/login/api/sso",
		idempotent: true,
	})
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()

	var sr ssoResponse
	if err := xml.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return User{}, fmt.Errorf("firefly: decoding sso response: %w", err)
	}

	if sr.User.Identifier == "" {
		return User{}, fmt.Errorf("firefly: sso response has no user identifier")
	}

	return User{
		Name:     sr.User.Name,
		Username: sr.User.Username,
		GUID:     sr.User.Identifier,
	}, nil
}
