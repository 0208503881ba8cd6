package pipeline

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/ascensum/genimagefactory/internal/config"
)

// Planner implements stage 1: expand a settings snapshot into a bounded
// sequence of parameter sets, one per generation.
type Planner struct{}

// NewPlanner constructs a Planner. It holds no state; it is a type so the
// stage has the same "method on a receiver" shape as every other stage.
func NewPlanner() *Planner { return &Planner{} }

// Plan reads the keywords file and builds settings.Parameters.Count
// parameter sets, each requesting settings.Parameters.Variations images.
func (p *Planner) Plan(settings config.Settings) ([]ParamSet, error) {
	keywords, err := p.loadKeywords(settings.FilePaths.KeywordsFile)
	if err != nil {
		return nil, &StageFailure{Stage: StagePlan, Cause: err}
	}
	if len(keywords) == 0 {
		keywords = []string{""}
	}

	count := settings.Parameters.Count
	sets := make([]ParamSet, 0, count)
	for i := 0; i < count; i++ {
		keyword := keywords[i%len(keywords)]
		if settings.Parameters.KeywordRandom {
			keyword = keywords[rand.Intn(len(keywords))]
		}
		aspect := ""
		if len(settings.Parameters.AspectRatios) > 0 {
			aspect = settings.Parameters.AspectRatios[i%len(settings.Parameters.AspectRatios)]
		}
		sets = append(sets, ParamSet{
			Index:       i,
			MappingBase: fmt.Sprintf("gen-%d", i),
			Prompt:      keyword,
			Variations:  settings.Parameters.Variations,
			AspectRatio: aspect,
		})
	}
	return sets, nil
}

func (p *Planner) loadKeywords(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keywords file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keywords file: %w", err)
	}
	return lines, nil
}
