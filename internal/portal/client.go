// Package portal は予約ポータルとのワイヤプロトコルを実装する。
//
// ポータルは機械可読なAPIを公開していないため、全操作はHTMLフォームの
// 描画・送信と、その応答マークアップ（一部はアドホックなJSON）の解釈で行う。
// ワイヤ上のフィールド名と形式はすべてこのパッケージに閉じ込める。
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/k2on/ak-scheduler/internal/markup"
	"github.com/k2on/ak-scheduler/internal/model"
)

// ポータル操作の識別子。メトリクスのラベルにもこの値を使う。
const (
	OpBootstrap = "bootstrap"
	OpLookup    = "lookup"
	OpListTimes = "get_list"
	OpBook      = "make_request"
	OpCancel    = "cancel_appt"
)

const (
	// userAgent はポータルへのリクエストに付与するUA。
	userAgent = "AKScheduler/1.0"
	// defaultMaxBodySize は応答ボディの既定読み取り上限。
	defaultMaxBodySize = 5 * 1024 * 1024
	// cancelLogLimit はキャンセル応答をログに載せる際の最大文字数。
	cancelLogLimit = 512
)

// MetricsRecorder はポータル呼び出しのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordPortalRequest(operation string, success bool)
	RecordPortalLatency(operation string, duration time.Duration)
}

// TextCleaner はポータル由来テキストのサニタイズインターフェース。
type TextCleaner interface {
	Clean(raw string) string
}

// Client は予約ポータルのクライアント。
// 5つのワイヤ操作（bootstrap, lookup, get_list, make_request, cancel_appt）を提供する。
// リトライは行わず、失敗は即座に呼び出し元へ伝播する。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     MetricsRecorder
	cleaner     TextCleaner
	limiter     *rate.Limiter
	baseURL     string
	maxBodySize int64
}

// ClientOptions はClientの追加設定。ゼロ値でも動作する。
type ClientOptions struct {
	Metrics     MetricsRecorder // nilの場合は記録しない
	Cleaner     TextCleaner     // nilの場合はサニタイズしない
	RatePerMin  int             // ポータルへの分あたり最大リクエスト数。0で無制限
	MaxBodySize int64           // 応答ボディの読み取り上限。0で既定値
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger, opts ClientOptions) *Client {
	var limiter *rate.Limiter
	if opts.RatePerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMin)/60.0), opts.RatePerMin)
	}

	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}

	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		metrics:     opts.Metrics,
		cleaner:     opts.Cleaner,
		limiter:     limiter,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxBodySize: maxBody,
	}
}

// FetchSessionTokens はブートストラップを実行する。
// 指定ロケーションのランディングページを1回読み、埋め込まれた
// セッショントークンとログイントークンを回収する。
// どちらかが欠けている場合はSESSION_ERRORを返す。
func (c *Client) FetchSessionTokens(ctx context.Context, locationID string) (tokens *SessionTokens, err error) {
	start := time.Now()
	defer func() { c.record(OpBootstrap, start, err == nil) }()

	body, err := c.get(ctx, url.Values{"domid": {locationID}})
	if err != nil {
		return nil, fmt.Errorf("ブートストラップのリクエストに失敗しました: %w", err)
	}

	page, err := markup.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("ランディングページのパースに失敗しました: %w", err)
	}

	tokens = &SessionTokens{
		SessionID: page.FieldValue("sessid"),
		LoginID:   page.FieldValue("login_pagerandval"),
	}
	if tokens.SessionID == "" || tokens.LoginID == "" {
		return nil, model.NewSessionError("ランディングページにセッショントークンが含まれていません")
	}

	return tokens, nil
}

// SubmitLookup はユーザー検索フォームを送信し、応答マークアップから
// ユーザーID・3つのフィルタ選択肢リスト・予約済みエントリを回収する。
// 生年月日はUTCのカレンダーフィールドに分解し、合成文字列と
// 分解フィールドの両方をフォームに載せる（ポータルが両形式を要求する）。
func (c *Client) SubmitLookup(ctx context.Context, req LookupRequest) (result *LookupResult, err error) {
	start := time.Now()
	defer func() { c.record(OpLookup, start, err == nil) }()

	year := req.Birthdate.UTC().Year()
	month := int(req.Birthdate.UTC().Month())
	day := req.Birthdate.UTC().Day()

	form := url.Values{
		"PHPSESSID":          {req.SessionID},
		"login_pagerandval":  {req.LoginID},
		"login_donesubmit":   {"T"},
		"location":           {req.LocationID},
		"first_name":         {req.FirstName},
		"last_name":          {req.LastName},
		"dob":                {fmt.Sprintf("%d-%d-%d", year, month, day)},
		"dob_month":          {strconv.Itoa(month)},
		"dob_day":            {strconv.Itoa(day)},
		"dob_year":           {strconv.Itoa(year)},
		"email":              {req.Email},
		"phone":              {req.Phone},
		"submitbtn_login":    {"Find Me!"},
	}

	body, err := c.postForm(ctx, url.Values{"domid": {req.LocationID}}, form)
	if err != nil {
		return nil, fmt.Errorf("ユーザー検索のリクエストに失敗しました: %w", err)
	}

	page, err := markup.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("ユーザー検索応答のパースに失敗しました: %w", err)
	}

	userID := page.FieldValue("uid")
	if userID == "" {
		return nil, model.NewSessionError("ユーザー検索応答にユーザーIDが含まれていません")
	}

	return &LookupResult{
		UserID: userID,
		Catalog: &model.OptionCatalog{
			DateOptions:            page.Options("date"),
			AppointmentTypeOptions: page.Options("appointment-type"),
			TrainerOptions:         page.Options("trainer"),
		},
		Booked: page.BookedEntries(),
	}, nil
}

// ListTimes は空き枠検索を実行する。
// 契約上の応答はちょうど1ページで、0ページはNO_RESULTS、
// 2ページ以上は警告ログを残して先頭ページを採用する。
func (c *Client) ListTimes(ctx context.Context, locationID, sessionID string, selection map[string]string) (page *TimesPage, err error) {
	start := time.Now()
	defer func() { c.record(OpListTimes, start, err == nil) }()

	q := url.Values{}
	for key, value := range selection {
		q.Set(key, value)
	}
	q.Set("domid", locationID)
	q.Set("request", "get_list")
	q.Set("sessid", sessionID)
	q.Set("appt_sel", "")
	q.Set("external_cal", "false")

	body, err := c.get(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("空き枠検索のリクエストに失敗しました: %w", err)
	}

	var pages []TimesPage
	if err := json.Unmarshal(body, &pages); err != nil {
		return nil, fmt.Errorf("空き枠検索応答のパースに失敗しました: %w", err)
	}

	if len(pages) == 0 {
		return nil, model.NewNoResultsError()
	}
	if len(pages) > 1 {
		// 非致命の異常: 先頭ページで続行する
		c.logger.Warn("空き枠検索が複数の結果ページを返しました",
			slog.Int("page_count", len(pages)),
		)
	}

	return &pages[0], nil
}

// BookAppointment は予約ミューテーションを実行する。
// 応答のsuccessフラグが0の場合はポータル報告のエラー文言を含む
// UPSTREAM_ERRORを返す。べき等ではないため再送してはならない。
func (c *Client) BookAppointment(ctx context.Context, req BookRequest) (err error) {
	start := time.Now()
	defer func() { c.record(OpBook, start, err == nil) }()

	form := url.Values{
		"request":             {"make_request"},
		"domid":               {req.LocationID},
		"sessid":              {req.SessionID},
		"datetime":            {formatDateTime(req.DateTime)},
		"availability_id":     {req.AvailabilityID},
		"appointment_id":      {req.TrainerID},
		"appointment_type_id": {req.AppointmentTypeID},
	}

	body, err := c.postForm(ctx, nil, form)
	if err != nil {
		return fmt.Errorf("予約のリクエストに失敗しました: %w", err)
	}

	var resp bookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("予約応答のパースに失敗しました: %w", err)
	}

	if resp.Success == 0 {
		return model.NewUpstreamError(c.clean(resp.Error))
	}

	return nil
}

// CancelAppointment はキャンセルミューテーションを実行する。
// ポータルのキャンセル応答は成功フラグの契約が確認できていないため、
// ボディはログに記録するだけで常に成功として扱う。
// 応答形式が確認でき次第、予約と同じ成功フラグ検査を適用すべき。
func (c *Client) CancelAppointment(ctx context.Context, locationID, sessionID, userID, appointmentID string) (err error) {
	start := time.Now()
	defer func() { c.record(OpCancel, start, err == nil) }()

	form := url.Values{
		"request": {"cancel_appt"},
		"domid":   {locationID},
		"sessid":  {sessionID},
		"uid":     {userID},
		"apptid":  {appointmentID},
	}

	body, err := c.postForm(ctx, nil, form)
	if err != nil {
		return fmt.Errorf("キャンセルのリクエストに失敗しました: %w", err)
	}

	logged := c.clean(string(body))
	if len(logged) > cancelLogLimit {
		logged = logged[:cancelLogLimit]
	}
	c.logger.Info("キャンセル応答を受信しました",
		slog.String("appointment_id", appointmentID),
		slog.String("response", logged),
	)

	return nil
}

// get はベースURLに対してGETリクエストを実行し、ボディを返す。
func (c *Client) get(ctx context.Context, query url.Values) ([]byte, error) {
	reqURL, err := c.buildURL(query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	return c.do(req)
}

// postForm はベースURLに対してフォームをPOSTし、ボディを返す。
func (c *Client) postForm(ctx context.Context, query url.Values, form url.Values) ([]byte, error) {
	reqURL, err := c.buildURL(query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req)
}

// do はレート制限を適用した上でHTTPリクエストを実行する。
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("ポータルへのリクエストに失敗しました",
			slog.String("method", req.Method),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("ポータルがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("method", req.Method),
		)
		return nil, fmt.Errorf("ポータルがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return body, nil
}

// buildURL はベースURLにクエリパラメータを付与したURLを構築する。
func (c *Client) buildURL(query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("ベースURLのパースに失敗しました: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// record は操作のレイテンシと最終結果をメトリクスに記録する。
func (c *Client) record(operation string, start time.Time, success bool) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordPortalLatency(operation, time.Since(start))
	c.metrics.RecordPortalRequest(operation, success)
}

// clean はサニタイザが設定されていればテキストをサニタイズする。
func (c *Client) clean(raw string) string {
	if c.cleaner == nil {
		return strings.TrimSpace(raw)
	}
	return c.cleaner.Clean(raw)
}

// formatDateTime はポータルが要求する "YYYY-M-D H:MM:00" 形式
// （UTCカレンダーフィールド、24時間表記、ゼロ埋めなしの月日時）に整形する。
func formatDateTime(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%d-%d-%d %d:%02d:00",
		u.Year(), int(u.Month()), u.Day(), u.Hour(), u.Minute())
}
