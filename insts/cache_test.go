package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsim/insts"
)

var _ = Describe("Decode caches", func() {
	Describe("FlushCache", func() {
		It("should empty itself once the limit is exceeded", func() {
			cache := insts.NewFlushCache(insts.DefaultCacheLimit)

			for w := uint32(0); w < insts.DefaultCacheLimit; w++ {
				cache.Put(w, insts.Decode(w))
			}
			Expect(cache.Len()).To(Equal(insts.DefaultCacheLimit))
			Expect(cache.Stats().Flushes).To(BeZero())

			cache.Put(insts.DefaultCacheLimit, insts.Decode(insts.DefaultCacheLimit))
			Expect(cache.Len()).To(Equal(0))
			Expect(cache.Stats().Flushes).To(Equal(uint64(1)))
		})

		It("should return identical results after a flush", func() {
			decoder := insts.NewDecoder(insts.WithCache(insts.NewFlushCache(2)))

			before := decoder.Decode(0xE3A0100A)
			decoder.Decode(0xE0802001)
			decoder.Decode(0xE1500001)
			after := decoder.Decode(0xE3A0100A)

			Expect(after).To(Equal(before))
			Expect(decoder.Stats().Flushes).To(Equal(uint64(1)))
		})
	})

	Describe("LRUCache", func() {
		var cache *insts.LRUCache

		BeforeEach(func() {
			cache = insts.NewLRUCache(1, 2)
		})

		It("should hit on stored words", func() {
			cache.Put(0xE3A0100A, insts.Decode(0xE3A0100A))

			inst, ok := cache.Get(0xE3A0100A)
			Expect(ok).To(BeTrue())
			Expect(inst.Category()).To(Equal(insts.CategoryDataOp))
			Expect(cache.Stats().Hits).To(Equal(uint64(1)))
		})

		It("should evict the least recently used word", func() {
			cache.Put(1, insts.Decode(1))
			cache.Put(2, insts.Decode(2))

			_, ok := cache.Get(1)
			Expect(ok).To(BeTrue())

			cache.Put(3, insts.Decode(3))

			_, ok = cache.Get(2)
			Expect(ok).To(BeFalse())
			_, ok = cache.Get(1)
			Expect(ok).To(BeTrue())
			_, ok = cache.Get(3)
			Expect(ok).To(BeTrue())
			Expect(cache.Len()).To(Equal(2))
			Expect(cache.Stats().Evictions).To(Equal(uint64(1)))
		})

		It("should be empty after reset", func() {
			cache.Put(1, insts.Decode(1))
			cache.Reset()

			Expect(cache.Len()).To(Equal(0))
			_, ok := cache.Get(1)
			Expect(ok).To(BeFalse())
		})

		It("should back a decoder", func() {
			decoder := insts.NewDecoder(insts.WithCache(insts.NewLRUCache(64, 4)))

			decoder.Decode(0xE92D4010)
			decoder.Decode(0xE92D4010)

			Expect(decoder.Stats().Hits).To(Equal(uint64(1)))
		})
	})
})
