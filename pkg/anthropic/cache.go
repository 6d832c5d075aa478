package anthropic

// BuildCachedSystemBlocks returns the instruction block followed by a shared
// context block carrying a cache breakpoint. Every field request for one
// message reuses the same context, so later requests read it from cache.
func BuildCachedSystemBlocks(instructions, sharedContext string) []SystemBlock {
	blocks := make([]SystemBlock, 0, 2)
	if instructions != "" {
		blocks = append(blocks, SystemBlock{Text: instructions})
	}
	if sharedContext != "" {
		blocks = append(blocks, SystemBlock{
			Text:         sharedContext,
			CacheControl: &CacheControl{TTL: "5m"},
		})
	}
	return blocks
}
