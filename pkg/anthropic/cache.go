package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint on a 5-minute TTL.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}
