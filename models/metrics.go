package models

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
)

var (
	textureCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "texture_count",
		Help: "The number of live textures.",
	})

	textureBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "texture_bytes",
		Help: "The number of bytes held by live textures.",
	})

	textureDecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "texture_decode_errors",
		Help: "The errors that occurred while decoding compressed textures.",
	}, []string{errTypeLabel})

	textureDecodeBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "texture_decode_bytes",
		Help: "The number of bytes produced by decoding compressed textures.",
	})
)

func instrumentTextureCreate(t *TextureResource) {
	textureCount.Inc()
	textureBytes.Add(float64(len(t.Data)))
}

func instrumentTextureFree(size int) {
	textureCount.Dec()
	textureBytes.Sub(float64(size))
}

func instrumentTextureDecode(pixels []byte, err error) {
	if err != nil {
		textureDecodeErrors.
			With(prometheus.Labels{errTypeLabel: errors.Type(err)}).
			Inc()
		return
	}
	textureDecodeBytes.Add(float64(len(pixels)))
}
