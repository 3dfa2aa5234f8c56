package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func record(fn func(c *gin.Context)) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fn(c)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("响应不是合法 JSON: %v", err)
	}
	return body
}

func TestReject_CarriesErrorCodeAndDetails(t *testing.T) {
	w := record(func(c *gin.Context) {
		Reject(c, http.StatusConflict, 20901, "REQUEST_IN_FLIGHT", "请求处理中", "稍后重试")
	})

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	body := decode(t, w)
	if body["error_code"] != "REQUEST_IN_FLIGHT" || body["details"] != "稍后重试" || body["code"] != float64(20901) {
		t.Errorf("响应体不符: %v", body)
	}
}

func TestError_OmitsOptionalFields(t *testing.T) {
	w := record(func(c *gin.Context) { BadRequest(c, 10001, "参数校验失败") })

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	body := decode(t, w)
	if _, ok := body["error_code"]; ok {
		t.Error("普通错误不应携带 error_code")
	}
	if _, ok := body["details"]; ok {
		t.Error("普通错误不应携带 details")
	}
}

func TestOKPage_TotalPages(t *testing.T) {
	cases := []struct {
		total    int64
		pageSize int
		want     int
	}{
		{0, 20, 0},
		{20, 20, 1},
		{21, 10, 3},
	}
	for _, tc := range cases {
		w := record(func(c *gin.Context) { OKPage(c, []string{}, tc.total, 1, tc.pageSize) })

		var resp struct {
			Data PageData `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("响应不是合法 JSON: %v", err)
		}
		if resp.Data.Pagination.TotalPages != tc.want {
			t.Errorf("total=%d page_size=%d: 期望 %d 页，实际 %d", tc.total, tc.pageSize, tc.want, resp.Data.Pagination.TotalPages)
		}
	}
}
