package generator

import "github.com/samber/lo"

var defaultPrompts = []string{
	"How do you think artificial intelligence will change everyday life in the future?",
	"If you could have dinner with any historical figure, who would you choose and why?",
	"Can you share a little-known but fascinating scientific fact?",
	"What book or film has shaped the way you think, and how?",
	"What do you consider humanity's greatest invention, and why?",
	"If you had one superpower, what would it be and how would you use it?",
	"Which technological breakthroughs do you expect in the next ten years?",
	"What is the most mysterious place on Earth and what makes it fascinating?",
	"Can you explain a complex scientific idea so that a ten-year-old understands it?",
	"What is the biggest difference between humans and other animals?",
	"How can people balance technology use with genuine relationships?",
	"What concept or experience could change someone's view of the world?",
	"Do you think there is intelligent life elsewhere in the universe? Why?",
	"How can someone cultivate creativity in daily life?",
	"Can you tell me about a little-known historical event?",
}

// FallbackPool supplies canned prompts when no backend can generate one.
type FallbackPool struct {
	prompts []string
}

func NewFallbackPool(prompts ...string) *FallbackPool {
	if len(prompts) == 0 {
		prompts = defaultPrompts
	}
	return &FallbackPool{prompts: prompts}
}

// Pick returns a prompt chosen uniformly at random.
func (p *FallbackPool) Pick() string {
	return lo.Sample(p.prompts)
}
