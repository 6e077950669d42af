package trend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewNaverClientRequiresCredentials(t *testing.T) {
	if _, err := NewNaverClient("", "secret", ""); !errors.Is(err, ErrCredentials) {
		t.Fatalf("err = %v, want ErrCredentials", err)
	}
}

func TestFetchTrend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("X-Naver-Client-Id") != "id" || r.Header.Get("X-Naver-Client-Secret") != "pw" {
			t.Errorf("missing credential headers")
		}
		var body trendRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.TimeUnit != "month" || len(body.KeywordGroups) != 1 || body.KeywordGroups[0].Keywords[0] != "그랜저" {
			t.Errorf("body = %+v", body)
		}
		_, _ = w.Write([]byte(`{"results":[{"title":"그랜저","data":[
			{"period":"2024-01-01","ratio":61.5},
			{"period":"2024-02-01","ratio":100}
		]}]}`))
	}))
	defer srv.Close()

	c, err := NewNaverClient("id", "pw", srv.URL)
	if err != nil {
		t.Fatalf("NewNaverClient: %v", err)
	}
	pts, err := c.FetchTrend(context.Background(), "그랜저", "2024-01-01", "2024-02-29", "")
	if err != nil {
		t.Fatalf("FetchTrend: %v", err)
	}
	if len(pts) != 2 || pts[0].Period != "2024-01-01" || !pts[0].Ratio.Equal(decimal.RequireFromString("61.5")) {
		t.Fatalf("points = %+v", pts)
	}
}

func TestFetchTrendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessage":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := NewNaverClient("id", "pw", srv.URL)
	if _, err := c.FetchTrend(context.Background(), "K5", "2024-01-01", "2024-02-01", "month"); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v, want status 429", err)
	}
}

func TestReadNaverAveragesPerMonth(t *testing.T) {
	in := "\ufeffmodel_id,keyword,date,ratio\n" +
		"1,그랜저,2024-01-01,10\n" +
		"1,그랜저,2024-01-08,20\n" +
		"1,그랜저,2024-02-01,7.5\n" +
		"x,그랜저,2024-02-01,1\n" +
		"2,K5,2024-13-01,1\n" +
		"2,K5,2024-01-01,\n"

	res, err := ReadNaver(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadNaver: %v", err)
	}
	if res.Rows != 6 || res.Rejected != 3 {
		t.Fatalf("rows=%d rejected=%d", res.Rows, res.Rejected)
	}
	if len(res.Points) != 2 {
		t.Fatalf("points = %+v", res.Points)
	}
	if res.Points[0].Month != "2024-01" || !res.Points[0].Value.Equal(decimal.NewFromInt(15)) {
		t.Errorf("jan = %+v", res.Points[0])
	}
	if res.Points[1].Month != "2024-02" || !res.Points[1].Value.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("feb = %+v", res.Points[1])
	}
}

func TestWriteThenReadNaver(t *testing.T) {
	var buf bytes.Buffer
	rows := []NaverRow{
		{ModelID: 3, Keyword: "EV9", Date: "2024-03-01", Ratio: decimal.RequireFromString("12.25")},
	}
	if err := WriteNaver(&buf, rows); err != nil {
		t.Fatalf("WriteNaver: %v", err)
	}
	res, err := ReadNaver(&buf)
	if err != nil {
		t.Fatalf("ReadNaver: %v", err)
	}
	if len(res.Points) != 1 || res.Points[0].ModelID != 3 || !res.Points[0].Value.Equal(decimal.RequireFromString("12.25")) {
		t.Fatalf("points = %+v", res.Points)
	}
}

func TestReadGoogle(t *testing.T) {
	in := "model_id,month,google_trend_index\n5,2024-03,42\n5,bad,1\n6,2024-04-01,0\n"
	res, err := ReadGoogle(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadGoogle: %v", err)
	}
	if len(res.Points) != 2 || res.Rejected != 1 {
		t.Fatalf("res = %+v", res)
	}
	if res.Points[1].ModelID != 6 || res.Points[1].Month != "2024-04" {
		t.Fatalf("second = %+v", res.Points[1])
	}
}

func TestReadGoogleMissingColumn(t *testing.T) {
	if _, err := ReadGoogle(strings.NewReader("model_id,month\n1,2024-01\n")); err == nil {
		t.Fatalf("expected missing column error")
	}
}
