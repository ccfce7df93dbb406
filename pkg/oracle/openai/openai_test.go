package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/oracle"
	"github.com/papercomputeco/engram/pkg/oracle/openai"
)

// logprobsResponse builds a completions response echoing the given token
// logprobs, with nil entries encoded as JSON null.
func logprobsResponse(logprobs ...*float64) string {
	encoded, err := json.Marshal(logprobs)
	Expect(err).NotTo(HaveOccurred())
	return fmt.Sprintf(`{"choices":[{"logprobs":{"token_logprobs":%s}}]}`, encoded)
}

func lp(v float64) *float64 { return &v }

var _ = Describe("Oracle", func() {
	var (
		ctx      context.Context
		server   *httptest.Server
		respBody string
		status   int
		lastReq  map[string]any
	)

	BeforeEach(func() {
		ctx = context.Background()
		status = http.StatusOK
		lastReq = nil

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/v1/completions"))
			Expect(json.NewDecoder(r.Body).Decode(&lastReq)).To(Succeed())
			w.WriteHeader(status)
			fmt.Fprint(w, respBody)
		}))
		DeferCleanup(server.Close)
	})

	newOracle := func(apiKey string) *openai.Oracle {
		o, err := openai.New(openai.Config{BaseURL: server.URL, Model: "test-model", APIKey: apiKey})
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	It("computes exp of the negative mean logprob", func() {
		respBody = logprobsResponse(nil, lp(-1), lp(-3))

		got, err := newOracle("").Score(ctx, "some text")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNumerically("~", math.Exp(2), 1e-9))
	})

	It("skips the null first-token logprob", func() {
		respBody = logprobsResponse(nil, lp(-2))

		got, err := newOracle("").Score(ctx, "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNumerically("~", math.Exp(2), 1e-9))
	})

	It("clamps perplexity to at least 1", func() {
		respBody = logprobsResponse(lp(0.5), lp(0.5))

		got, err := newOracle("").Score(ctx, "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(1.0))
	})

	It("asks the endpoint to echo the prompt with logprobs", func() {
		respBody = logprobsResponse(lp(-1))

		_, err := newOracle("").Score(ctx, "the prompt")
		Expect(err).NotTo(HaveOccurred())
		Expect(lastReq).To(HaveKeyWithValue("model", "test-model"))
		Expect(lastReq).To(HaveKeyWithValue("prompt", "the prompt"))
		Expect(lastReq).To(HaveKeyWithValue("echo", true))
		Expect(lastReq).To(HaveKeyWithValue("max_tokens", BeNumerically("==", 0)))
	})

	It("maps a non-200 status to ErrUnavailable", func() {
		status = http.StatusServiceUnavailable
		respBody = "overloaded"

		_, err := newOracle("").Score(ctx, "hi")
		Expect(err).To(MatchError(oracle.ErrUnavailable))
	})

	It("maps a transport failure to ErrUnavailable", func() {
		o := newOracle("")
		server.Close()

		_, err := o.Score(ctx, "hi")
		Expect(err).To(MatchError(oracle.ErrUnavailable))
	})

	It("maps a malformed body to ErrPerplexity", func() {
		respBody = "{not json"

		_, err := newOracle("").Score(ctx, "hi")
		Expect(err).To(MatchError(oracle.ErrPerplexity))
	})

	It("maps an empty choices list to ErrPerplexity", func() {
		respBody = `{"choices":[]}`

		_, err := newOracle("").Score(ctx, "hi")
		Expect(err).To(MatchError(oracle.ErrPerplexity))
	})

	It("fails when every logprob is null", func() {
		respBody = logprobsResponse(nil, nil)

		_, err := newOracle("").Score(ctx, "hi")
		Expect(err).To(MatchError(oracle.ErrPerplexity))
	})
})
