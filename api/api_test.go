package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	activemem "github.com/papercomputeco/engram/pkg/active/inmemory"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/metrics"
	"github.com/papercomputeco/engram/pkg/recall"
)

// unitEmbedder embeds every query as the unit x-axis vector.
type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (unitEmbedder) Close() error { return nil }

var _ = Describe("Server", func() {
	var (
		server *Server
		store  *activemem.Store
	)

	day := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

	post := func(path string, body any) *http.Response {
		payload, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	get := func(path string) *http.Response {
		resp, err := server.app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		var err error
		store, err = activemem.New(activemem.Config{Dimensions: 3})
		Expect(err).NotTo(HaveOccurred())

		recaller, err := recall.NewService(unitEmbedder{}, store, nil, nil, nil, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		server = NewServer(Config{ListenAddr: ":0"}, recaller, nil, zap.NewNop())
	})

	Describe("GET /ping", func() {
		It("responds with pong", func() {
			resp := get("/ping")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body string
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body).To(Equal("pong"))
		})
	})

	Describe("POST /v1/recall", func() {
		BeforeEach(func() {
			Expect(store.Insert(context.Background(), memory.Memory{
				ID:         "m1",
				SourceID:   1,
				Text:       "the wifi password is hunter2",
				Embedding:  []float32{1, 0, 0},
				Surprise:   0.82,
				CreatedAt:  day,
				Tier:       memory.TierActive,
				SessionTag: "s1",
			})).To(Succeed())
		})

		It("returns matches for a text query", func() {
			resp := post("/v1/recall", RecallRequest{Query: "wifi password"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body RecallResponse
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Count).To(Equal(1))
			Expect(body.Results[0].ID).To(Equal("m1"))
			Expect(body.Results[0].Text).To(Equal("the wifi password is hunter2"))
			Expect(body.Results[0].Tier).To(Equal("active"))
			Expect(body.Results[0].Surprise).To(Equal(0.82))
			Expect(body.Results[0].CreatedAt).To(BeTemporally("==", day))
		})

		It("accepts a raw embedding", func() {
			resp := post("/v1/recall", RecallRequest{Embedding: []float32{1, 0, 0}})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body RecallResponse
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Count).To(Equal(1))
		})

		It("rejects an empty query", func() {
			resp := post("/v1/recall", RecallRequest{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body ErrorResponse
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Error).To(ContainSubstring("query or embedding"))
		})

		It("rejects a malformed body", func() {
			req := httptest.NewRequest(http.MethodPost, "/v1/recall", bytes.NewReader([]byte("{nope")))
			req.Header.Set("Content-Type", "application/json")
			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a bad from timestamp", func() {
			resp := post("/v1/recall", RecallRequest{Query: "q", From: "yesterday-ish"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /v1/stats", func() {
		It("reports tier counts", func() {
			Expect(store.Insert(context.Background(), memory.Memory{
				ID:        "m1",
				SourceID:  1,
				Text:      "something",
				Embedding: []float32{0, 1, 0},
				Tier:      memory.TierActive,
			})).To(Succeed())

			resp := get("/v1/stats")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body recall.Stats
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.ActiveCount).To(Equal(1))
		})
	})

	Describe("GET /metrics", func() {
		It("is absent without a metrics handle", func() {
			resp := get("/metrics")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("serves the registry when wired", func() {
			recaller, err := recall.NewService(unitEmbedder{}, store, nil, nil, nil, nil, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			server = NewServer(Config{ListenAddr: ":0"}, recaller, metrics.New(), zap.NewNop())

			resp := get("/metrics")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
