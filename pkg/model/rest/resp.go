// Package rest defines the envelope every Submission API handler responds
// with, so callers can rely on one shape regardless of endpoint.
package rest

// CodeSuccess is the Meta.Code value for a successful response.
const CodeSuccess int = 2000

var successMeta = Meta{Code: CodeSuccess, Message: "OK"}

// Meta carries the response's status code and message, separate from its
// payload so error responses still have a stable top-level shape.
type Meta struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the envelope returned by every handler.
type Response struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data"`
}

// ListData wraps a paginated collection with its total count.
type ListData struct {
	Rows       interface{} `json:"rows"`
	TotalCount int64       `json:"total_count"`
}

// SuccessResp wraps data in a 2000-coded envelope.
func SuccessResp(data interface{}) Response {
	return Response{Meta: successMeta, Data: data}
}

// ErrorResp wraps an error code and message in the same envelope shape, with
// data usually nil.
func ErrorResp(code int, errMsg string, data interface{}) Response {
	return Response{Meta: Meta{Code: code, Message: errMsg}, Data: data}
}

// NewListData builds a ListData from a slice of rows and its total count.
func NewListData(rows interface{}, totalCount int64) ListData {
	return ListData{Rows: rows, TotalCount: totalCount}
}
