package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/sjson"

	"evtrack/pkg/model"
	"evtrack/pkg/traffic"
)

// Rybbit Rybbit 自定义事件上报
type Rybbit struct {
	lifecycle

	Host   string
	SiteID string

	endpoint  string
	transport *Transport
}

// NewRybbit 创建 Rybbit 处理器
func NewRybbit(host, siteID string, t *Transport) *Rybbit {
	return &Rybbit{Host: host, SiteID: siteID, transport: t}
}

func (r *Rybbit) Name() string { return "rybbit" }

func (r *Rybbit) Init(context.Context) error {
	return r.resolve(func() error {
		if r.Host == "" || r.SiteID == "" {
			return fmt.Errorf("rybbit: %w", ErrNotConfigured)
		}
		u, err := url.Parse(strings.TrimRight(r.Host, "/"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("rybbit: invalid host %q", r.Host)
		}
		r.endpoint = u.String() + "/api/track"
		if r.transport == nil {
			r.transport = NewTransport(nil)
		}
		return nil
	})
}

func (r *Rybbit) Forward(ctx context.Context, hit Hit) error {
	if r.State() != StateReady {
		return ErrNotReady
	}
	body, err := r.payload(hit)
	if err != nil {
		return err
	}
	req := traffic.NewRequest(r.Name(), hit.Name, r.endpoint, body)
	req.Admin = hit.Admin
	_, err = r.transport.Do(ctx, req)
	return err
}

func (r *Rybbit) payload(hit Hit) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, v)
		}
	}
	set("site_id", r.SiteID)
	set("type", "custom_event")
	set("event_name", hit.Name)
	if u, perr := url.Parse(hit.URL); perr == nil && hit.URL != "" {
		set("hostname", u.Hostname())
		set("pathname", u.EscapedPath())
		if u.RawQuery != "" {
			set("querystring", "?"+u.RawQuery)
		}
	}
	if len(hit.Properties) > 0 {
		props, merr := json.Marshal(model.CapDetail(hit.Properties))
		if merr != nil {
			return nil, fmt.Errorf("encode properties: %w", merr)
		}
		// Rybbit 要求 properties 为 JSON 字符串
		set("properties", string(props))
	}
	if err != nil {
		return nil, fmt.Errorf("build rybbit payload: %w", err)
	}
	return body, nil
}
