package tmdb

// movieResult is a movie as it appears in list endpoints (popular, discover, ...).
type movieResult struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`
	Overview         string  `json:"overview"`
	ReleaseDate      string  `json:"release_date"`
	Popularity       float64 `json:"popularity"`
	PosterPath       string  `json:"poster_path"`
	GenreIDs         []int   `json:"genre_ids"`
	OriginalLanguage string  `json:"original_language"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int     `json:"vote_count"`
	Adult            bool    `json:"adult"`
}

// movieDetail is the /movie/{id} response.
type movieDetail struct {
	movieResult
	IMDbID              string    `json:"imdb_id"`
	Runtime             int       `json:"runtime"`
	Genres              []Genre   `json:"genres"`
	ProductionCountries []country `json:"production_countries"`
}

// pagedResponse is the envelope shared by every paginated endpoint.
type pagedResponse[T any] struct {
	Page         int `json:"page"`
	Results      []T `json:"results"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
}

// tvResult is a TV show from /tv/popular.
type tvResult struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	FirstAirDate string  `json:"first_air_date"`
	PosterPath   string  `json:"poster_path"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
}

type country struct {
	ISO  string `json:"iso_3166_1"`
	Name string `json:"name"`
}

// Genre is a TMDB movie genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type genreListResponse struct {
	Genres []Genre `json:"genres"`
}

// apiError is the TMDB error body, e.g. {"status_code":7,"status_message":"Invalid API key"}.
type apiError struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}
