package m3u8

import "github.com/pkg/errors"

var errNoVariants = errors.New("master playlist has no variants")
