package protocol

// WordsRequest is the body of the synchronous word endpoint.
type WordsRequest struct {
	Text string `json:"text"`
}

// WordAudio is one resolved unit in a synchronous response.
type WordAudio struct {
	Word         string `json:"word"`
	Audio        []byte `json:"audio"`
	Index        int    `json:"index"`
	Cached       bool   `json:"cached"`
	IsEmoji      bool   `json:"is_emoji"`
	IsDecoration bool   `json:"is_decoration"`
	Pause        string `json:"pause"`
	Error        string `json:"error,omitempty"`
}

// WordsResponse is the complete ordered result of the synchronous endpoint.
type WordsResponse struct {
	WordAudioList []WordAudio `json:"word_audio_list"`
	TotalWords    int         `json:"total_words"`
}

// StoryRequest asks the composer for a new text.
type StoryRequest struct {
	Prompt   string `json:"prompt"`
	AgeGroup string `json:"age_group,omitempty"`
	Category string `json:"category,omitempty"`
}

// StoryResponse carries composed text.
type StoryResponse struct {
	Story string `json:"story"`
}

// HealthResponse describes the server's configuration.
type HealthResponse struct {
	Status     string `json:"status"`
	Engine     string `json:"engine"`
	Composer   string `json:"composer"`
	WindowSize int    `json:"window_size"`
	Sessions   int    `json:"sessions"`
	Cache      string `json:"cache"`
	CacheUnits int    `json:"cache_units"`
}

// ErrorResponse is the body of a failed HTTP request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
