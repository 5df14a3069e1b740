package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

const defaultKakaoAPIBase = "https://kapi.kakao.com"

// KakaoSender delivers messages through the KakaoTalk "memo to self" API
// using the user's stored OAuth access token.
type KakaoSender struct {
	base string
	http *http.Client
	log  logx.Logger
}

type KakaoConfig struct {
	// APIBase overrides the API endpoint; used by tests.
	APIBase string
}

func NewKakaoSender(cfg KakaoConfig, log logx.Logger) *KakaoSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = defaultKakaoAPIBase
	}
	return &KakaoSender{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

func (k *KakaoSender) Name() string        { return "kakao" }
func (k *KakaoSender) DisplayName() string { return "KakaoTalk" }

func (k *KakaoSender) Available(u storage.User) bool {
	return strings.TrimSpace(u.KakaoAccessToken) != ""
}

func (k *KakaoSender) Send(ctx context.Context, u storage.User, text string) bool {
	template, err := json.Marshal(map[string]any{
		"object_type": "text",
		"text":        text,
		"link":        map[string]any{},
	})
	if err != nil {
		k.log.Warn("kakao template marshal failed", logx.Err(err))
		return false
	}

	form := url.Values{"template_object": {string(template)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		k.base+"/v2/api/talk/memo/default/send",
		strings.NewReader(form.Encode()))
	if err != nil {
		k.log.Warn("kakao request build failed", logx.Err(err))
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+u.KakaoAccessToken)

	resp, err := k.http.Do(req)
	if err != nil {
		k.log.Warn("kakao send failed", logx.Err(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		k.log.Warn("kakao send rejected",
			logx.Int("status", resp.StatusCode),
			logx.String("body", strings.TrimSpace(string(body))))
		return false
	}
	k.log.Debug("kakao message sent")
	return true
}
