package nlp

import (
	"fmt"

	"github.com/keepmind9/nlpbridge/internal/core"
	"github.com/keepmind9/nlpbridge/pkg/constants"
)

// New builds the processor selected by config. It returns a nil processor
// for "none", which makes connectors drop inbound messages.
func New(config core.NLPConfig) (core.Processor, error) {
	switch config.Processor {
	case constants.ProcessorEcho, "":
		return NewEchoProcessor(), nil
	case constants.ProcessorOpenAI:
		return NewOpenAIProcessor(config.OpenAI), nil
	case constants.ProcessorNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown nlp processor '%s'", config.Processor)
	}
}
