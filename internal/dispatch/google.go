package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"evtrack/pkg/model"
	"evtrack/pkg/traffic"
)

// DefaultGoogleEndpoint GA4 Measurement Protocol 地址
const DefaultGoogleEndpoint = "https://www.google-analytics.com/mp/collect"

const maxGoogleEventName = 40

// Google GA4 Measurement Protocol 上报
type Google struct {
	lifecycle

	MeasurementID string
	APISecret     string
	Endpoint      string

	clientID  string
	target    string
	transport *Transport
}

// NewGoogle 创建 GA4 处理器
func NewGoogle(measurementID, apiSecret string, t *Transport) *Google {
	return &Google{MeasurementID: measurementID, APISecret: apiSecret, Endpoint: DefaultGoogleEndpoint, transport: t}
}

func (g *Google) Name() string { return "google" }

func (g *Google) Init(context.Context) error {
	return g.resolve(func() error {
		if g.MeasurementID == "" || g.APISecret == "" {
			return fmt.Errorf("google: %w", ErrNotConfigured)
		}
		endpoint := g.Endpoint
		if endpoint == "" {
			endpoint = DefaultGoogleEndpoint
		}
		u, err := url.Parse(endpoint)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("google: invalid endpoint %q", endpoint)
		}
		q := u.Query()
		q.Set("measurement_id", g.MeasurementID)
		q.Set("api_secret", g.APISecret)
		u.RawQuery = q.Encode()
		g.target = u.String()
		g.clientID = uuid.NewString()
		if g.transport == nil {
			g.transport = NewTransport(nil)
		}
		return nil
	})
}

func (g *Google) Forward(ctx context.Context, hit Hit) error {
	if g.State() != StateReady {
		return ErrNotReady
	}
	params := model.CapDetail(hit.Properties)
	if params == nil {
		params = map[string]any{}
	}
	if hit.URL != "" {
		params["page_location"] = hit.URL
	}
	params["engagement_time_msec"] = 1
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	body, err := sjson.SetBytes([]byte(`{}`), "client_id", g.clientID)
	if err == nil {
		body, err = sjson.SetBytes(body, "events.0.name", EventName(hit.Name))
	}
	if err == nil {
		body, err = sjson.SetRawBytes(body, "events.0.params", raw)
	}
	if err != nil {
		return fmt.Errorf("build google payload: %w", err)
	}

	req := traffic.NewRequest(g.Name(), hit.Name, g.target, body)
	req.Admin = hit.Admin
	_, err = g.transport.Do(ctx, req)
	return err
}

// EventName 转换为 GA4 允许的事件名：字母开头，仅含字母数字下划线，最长 40
func EventName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || !isLetter(out[0]) {
		out = "e_" + out
	}
	if len(out) > maxGoogleEventName {
		out = out[:maxGoogleEventName]
	}
	return out
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
