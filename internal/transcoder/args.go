package transcoder

import (
	"strconv"

	"media-vault/internal/cache"
)

// BuildArgs returns the ffmpeg argument vector for req. The result is
// passed directly to exec; no shell is involved. info may be nil.
func BuildArgs(req Request, info *MediaInfo) []string {
	qp := req.Quality.Params()
	fp := req.Format.Params()

	args := []string{
		"-nostdin",
		"-y",
		"-progress", "pipe:1",
		"-nostats",
		"-i", req.InputPath,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", fp.VideoCodec,
	}

	if qp.Height > 0 && info != nil && (info.Height == 0 || qp.Height < info.Height) {
		args = append(args, "-vf", "scale=-2:"+strconv.Itoa(qp.Height))
	}

	if qp.VideoBitrate != "" {
		args = append(args,
			"-b:v", qp.VideoBitrate,
			"-maxrate", qp.MaxRate,
			"-bufsize", qp.BufSize,
		)
	} else {
		// keep-source tier: quality-targeted rather than bitrate-targeted
		switch req.Format {
		case cache.FormatWebM:
			args = append(args, "-crf", "31", "-b:v", "0")
		default:
			args = append(args, "-crf", "20")
		}
	}

	args = append(args, fp.ExtraArgs...)
	args = append(args,
		"-c:a", fp.AudioCodec,
		"-b:a", qp.AudioBitrate,
		"-f", fp.Muxer,
		req.OutputPath,
	)
	return args
}
