package echoapi_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shuttle/core/billing"
)

type paymentBody struct {
	ID         string `json:"id"`
	StudentID  string `json:"student_id"`
	Period     string `json:"period"`
	AmountDue  int64  `json:"amount_due"`
	AmountPaid int64  `json:"amount_paid"`
	Status     string `json:"status"`
}

func TestBillingAPI(t *testing.T) {
	f := setup(t)
	admin := f.token(t, f.admin)

	bill := func(studentID, dueDate string) paymentBody {
		t.Helper()
		np := billing.NewPayment{StudentID: studentID, Period: "2024-01", AmountDue: 15000, DueDate: dueDate}
		rec := f.do(t, request{method: http.MethodPost, path: "/v1/payments", token: admin, body: np})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var p paymentBody
		decode(t, rec, &p)
		return p
	}
	early := bill("s-01", "2024-01-05")
	late := bill("s-02", "2024-01-20")
	assert.Equal(t, "pending", early.Status)
	assert.Equal(t, "2024-01", early.Period)

	rec := f.do(t, request{method: http.MethodPost, path: "/v1/payments/" + early.ID + "/receipts", token: admin, body: billing.Receipt{Amount: 5000}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p paymentBody
	decode(t, rec, &p)
	assert.Equal(t, int64(5000), p.AmountPaid)
	assert.Equal(t, "pending", p.Status)

	asOf := func(day string) map[string]time.Time {
		at, err := time.Parse("2006-01-02", day)
		require.NoError(t, err)
		return map[string]time.Time{"as_of": at}
	}
	rec = f.do(t, request{method: http.MethodPost, path: "/v1/payments/" + early.ID + "/overdue", token: admin, body: asOf("2024-01-10")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &p)
	assert.Equal(t, "overdue", p.Status)

	rec = f.do(t, request{method: http.MethodPost, path: "/v1/payments/sweep", token: admin, body: asOf("2024-01-10")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var swept []paymentBody
	decode(t, rec, &swept)
	assert.Empty(t, swept)

	rec = f.do(t, request{method: http.MethodPost, path: "/v1/payments/sweep", token: admin, body: asOf("2024-01-25")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &swept)
	require.Len(t, swept, 1)
	assert.Equal(t, late.ID, swept[0].ID)

	rec = f.do(t, request{path: "/v1/payments/summary?period=2024-01", token: admin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum billing.MonthlySummary
	decode(t, rec, &sum)
	assert.Equal(t, int64(30000), sum.TotalBilled)
	assert.Equal(t, int64(5000), sum.TotalCollected)
	assert.Equal(t, int64(25000), sum.TotalOutstanding)
	assert.Equal(t, 2, sum.OverdueStudents)
	assert.Equal(t, 1.0, sum.DelinquencyRate)

	rec = f.do(t, request{path: "/v1/payments?period=2024-01", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger []paymentBody
	decode(t, rec, &ledger)
	assert.Len(t, ledger, 2)

	rec = f.do(t, request{path: "/v1/students/s-01/statement", token: f.token(t, f.student1)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var st struct {
		Outstanding int64 `json:"outstanding"`
		Overdue     bool  `json:"overdue"`
	}
	decode(t, rec, &st)
	assert.Equal(t, int64(10000), st.Outstanding)
	assert.True(t, st.Overdue)

	checkErrors(t, f, []httpErrTest{
		{
			name:     "bill twice",
			req:      request{method: http.MethodPost, path: "/v1/payments", token: admin, body: billing.NewPayment{StudentID: "s-01", Period: "2024-01", AmountDue: 100, DueDate: "2024-01-05"}},
			wantCode: http.StatusConflict, wantKind: "CONFLICT",
		},
		{
			name:     "invalid period",
			req:      request{method: http.MethodPost, path: "/v1/payments", token: admin, body: billing.NewPayment{StudentID: "s-03", Period: "Jan", AmountDue: 100, DueDate: "2024-01-05"}},
			wantCode: http.StatusBadRequest, wantKind: "VALIDATION",
		},
		{
			name:     "overdue twice",
			req:      request{method: http.MethodPost, path: "/v1/payments/" + early.ID + "/overdue", token: admin, body: asOf("2024-01-10")},
			wantCode: http.StatusConflict, wantKind: "INVALID_STATE", wantMessage: "invalid state",
		},
		{
			name:     "overdue twice (fr)",
			req:      request{method: http.MethodPost, path: "/v1/payments/" + early.ID + "/overdue", token: admin, body: asOf("2024-01-10"), lang: "fr"},
			wantCode: http.StatusConflict, wantKind: "INVALID_STATE", wantMessage: "état invalide",
		},
		{
			name:     "zero receipt",
			req:      request{method: http.MethodPost, path: "/v1/payments/" + late.ID + "/receipts", token: admin, body: billing.Receipt{}},
			wantCode: http.StatusBadRequest, wantKind: "VALIDATION",
		},
		{
			name:     "summary of a bad period",
			req:      request{path: "/v1/payments/summary?period=2024-13", token: admin},
			wantCode: http.StatusBadRequest, wantKind: "VALIDATION",
		},
		{
			name:     "students do not bill",
			req:      request{path: "/v1/payments", token: f.token(t, f.student1)},
			wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name:     "statement of another student",
			req:      request{path: "/v1/students/s-02/statement", token: f.token(t, f.student1)},
			wantCode: http.StatusForbidden, wantKind: "FORBIDDEN",
		},
		{
			name:     "unknown payment",
			req:      request{path: "/v1/payments/p-404", token: admin},
			wantCode: http.StatusNotFound, wantKind: "NOT_FOUND",
		},
	})

	assert.Contains(t, f.do(t, request{path: "/metrics"}).Body.String(), "shuttle_payments_overdue_total 2")
}
