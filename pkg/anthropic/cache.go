package anthropic

// BuildCachedSystemBlocks returns a single system block carrying an
// ephemeral cache breakpoint. Classifier batches for one entity share the
// same instructions, so later batches read the prompt from cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
