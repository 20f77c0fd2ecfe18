package nodeapi

import (
	"context"
	"fmt"
	"net/http"
)

// InferOptions are sampling options passed through to the node.
type InferOptions struct {
	NPrev    *int     `json:"nPrev,omitempty"`
	NProbs   *int     `json:"nProbs,omitempty"`
	MinKeep  *int     `json:"minKeep,omitempty"`
	TopK     *int     `json:"topK,omitempty"`
	TopP     *float64 `json:"topP,omitempty"`
	MinP     *float64 `json:"minP,omitempty"`
	TfsZ     *float64 `json:"tfsZ,omitempty"`
	TypicalP *float64 `json:"typicalP,omitempty"`
	Temp     *float64 `json:"temp,omitempty"`

	Dynatemp *struct {
		Range    *float64 `json:"range,omitempty"`
		Exponent *float64 `json:"exponent,omitempty"`
	} `json:"dynatemp,omitempty"`

	Penalty *struct {
		LastN      *int     `json:"lastN,omitempty"`
		Repeat     *float64 `json:"repeat,omitempty"`
		Freq       *float64 `json:"freq,omitempty"`
		Present    *float64 `json:"present,omitempty"`
		PenalizeNl *bool    `json:"penalizeNl,omitempty"`
	} `json:"penalty,omitempty"`

	Mirostat *struct {
		Version string   `json:"version"`
		Tau     *float64 `json:"tau,omitempty"`
		Eta     *float64 `json:"eta,omitempty"`
	} `json:"mirostat,omitempty"`

	Seed          *int     `json:"seed,omitempty"`
	Grammar       *string  `json:"grammar,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

type InferArgs struct {
	// May be nil to continue from the current context.
	Prompt *string `json:"prompt"`

	// Maximum number of generated tokens.
	NEval int `json:"nEval"`

	Options *InferOptions `json:"options,omitempty"`

	Stream bool `json:"stream"`
}

type InferEpilogue struct {
	// Inference duration in milliseconds.
	Duration int64

	// Whether the inference was aborted mid-way.
	Aborted bool

	// Generated token count.
	TokenLength int

	// Current context length in tokens.
	ContextLength int
}

// Infer runs an inference, streaming decode-progress and token chunks
// to onChunk until the epilogue arrives.
func (c *Client) Infer(ctx context.Context, baseURL, sessionHandle string, args InferArgs, onChunk func(InferChunk)) (*InferEpilogue, error) {
	ctx, cancel := context.WithTimeout(ctx, c.InferTimeout)
	defer cancel()

	args.Stream = true

	url := fmt.Sprintf("%s/gpts/%s/infer", baseURL, sessionHandle)
	resp, err := c.do(ctx, http.MethodPost, url, args)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var epilogue *InferEpilogue
	err = eachLine(resp, func(line []byte) (bool, error) {
		var chunk InferChunk
		if err := unmarshalChunk(line, &chunk); err != nil {
			return false, err
		}

		switch chunk.Type {
		case InferChunkError:
			return false, &StreamError{Message: chunk.Error}
		case InferChunkDecoding, InferChunkInference:
			if onChunk != nil {
				onChunk(chunk)
			}
			return false, nil
		case InferChunkEpilogue:
			epilogue = &InferEpilogue{
				Duration:      chunk.Duration,
				Aborted:       chunk.Aborted,
				TokenLength:   chunk.TokenLength,
				ContextLength: chunk.ContextLength,
			}
			return true, nil
		default:
			return false, &ProtocolError{Reason: fmt.Sprintf("unknown infer chunk type %q", chunk.Type)}
		}
	})
	if err != nil {
		return nil, err
	}
	return epilogue, nil
}
