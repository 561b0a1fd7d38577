package videogen

import "context"

// keyframe renders the optional reference image. Any failure, including a
// timeout, degrades to "no keyframe" and never aborts the pipeline.
func (s *Service) keyframe(ctx context.Context, prompt string) []byte {
	switch {
	case s.image == nil, s.cfg.KeyframeMode == "off":
		return nil
	case s.cfg.KeyframeMode == "auto" && !sizeSupported(s.image.SupportedSizes(), s.cfg.Size):
		s.logger.Debug().Str("size", s.cfg.Size).Msg("keyframe skipped, size not supported by image provider")
		return nil
	}
	kctx, cancel := context.WithTimeout(ctx, s.cfg.ImageTimeout)
	defer cancel()
	data, err := s.image.Generate(kctx, prompt, s.cfg.Size)
	if err != nil {
		s.logger.Warn().Err(err).Msg("keyframe generation failed, continuing without reference image")
		return nil
	}
	return data
}

func sizeSupported(sizes []string, size string) bool {
	for _, s := range sizes {
		if s == size {
			return true
		}
	}
	return false
}
