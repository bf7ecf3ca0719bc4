package firefly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const graphqlPath = "/_api/1.0/graphql"

// ErrGraphQL is returned when the GraphQL endpoint answers 200 with an
// errors array.
var ErrGraphQL = errors.New("firefly: graphql error")

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// graphql posts query as a form-encoded data= field and decodes the data
// member into out. op names the operation in logs and errors. Only queries
// and absolute-state mutations may pass idempotent.
func (c *Client) graphql(ctx context.Context, op, query string, idempotent bool, out any) error {
	form := url.Values{}
	form.Set("data", query)

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        graphqlPath,
		body:        []byte(form.Encode()),
		contentType: contentTypeForm,
		idempotent:  idempotent,
	})
	if err != nil {
		return fmt.Errorf("firefly: %s: %w", op, err)
	}
	defer resp.Body.Close()

	var env graphqlEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("firefly: decoding %s reply: %w", op, err)
	}

	if len(env.Errors) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrGraphQL, op, env.Errors[0].Message)
	}

	if out != nil {
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return fmt.Errorf("firefly: %s reply has no data", op)
		}

		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("firefly: decoding %s data: %w", op, err)
		}
	}

	c.logger.Debug("graphql operation succeeded", slog.String("operation", op))

	return nil
}

// userGUID returns the GUID of the signed-in user, which every per-user
// operation is keyed by.
func (c *Client) userGUID() (string, error) {
	if c.recipient.GUID == "" {
		return "", errors.New("firefly: no user configured (login required)")
	}

	return c.recipient.GUID, nil
}

// gqlString renders s as a GraphQL string literal. GraphQL string escapes
// are a superset of what encoding/json produces.
func gqlString(s string) string {
	b, _ := json.Marshal(s)

	return string(b)
}

// gqlList renders items as a GraphQL list literal.
func gqlList[T any](items []T, render func(T) string) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, render(it))
	}

	return "[" + strings.Join(parts, ", ") + "]"
}

// lenientText decodes a JSON string, number or boolean as text. Null
// decodes as "".
type lenientText string

func (l *lenientText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = lenientText(s)

		return nil
	}

	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*l = ""

		return nil
	}

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return fmt.Errorf("firefly: expected scalar, got %s", raw)
	}

	*l = lenientText(raw)

	return nil
}
