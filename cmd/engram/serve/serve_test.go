package servecmder

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	inmemorystream "github.com/papercomputeco/engram/pkg/stream/inmemory"
)

var _ = Describe("createReader", func() {
	var (
		c *ServeCommander
		v *viper.Viper
	)

	BeforeEach(func() {
		c = &ServeCommander{logger: zap.NewNop()}
		v = viper.New()
	})

	It("builds an in-process stream for the inmemory provider", func() {
		v.Set("stream.provider", "inmemory")

		reader, err := c.createReader(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(reader).To(BeAssignableToTypeOf(&inmemorystream.Stream{}))
		Expect(reader.Close()).To(Succeed())
	})

	It("rejects a kafka provider with no brokers", func() {
		v.Set("stream.provider", "kafka")
		v.Set("stream.topic", "events")

		_, err := c.createReader(v)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown provider", func() {
		v.Set("stream.provider", "carrier-pigeon")

		_, err := c.createReader(v)
		Expect(err).To(MatchError(ContainSubstring("unsupported stream provider")))
	})
})
