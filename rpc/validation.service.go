package rpc

import "strings"

type ValidationServiceConfig struct {
	AvailableVenues []string
}

type ValidationService struct {
	config *ValidationServiceConfig
}

func NewValidationService(config *ValidationServiceConfig) *ValidationService {
	if config == nil {
		config = &ValidationServiceConfig{}
	}

	return &ValidationService{
		config: config,
	}
}

func (s *ValidationService) IsSupportedVenue(venue string) bool {
	venue = strings.ToLower(strings.TrimSpace(venue))
	for _, v := range s.config.AvailableVenues {
		if strings.ToLower(v) == venue {
			return true
		}
	}
	return false
}
