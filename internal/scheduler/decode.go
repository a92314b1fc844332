package scheduler

import (
	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/fetch"
	"github.com/golang/glog"
)

type decodeJob struct {
	request     *request
	data        []byte
	attachments map[string][]byte
}

// Continually decodes the fetched payloads until the job channel is closed. Decoded contents are
// inserted in the cache before the completion is queued.
func (s *Scheduler) consume() {
	defer s.workers.Done()

	for job := range s.jobs {
		c, err := s.decodeJob(job)
		if err != nil {
			s.finish(job.request, &Completion{Err: err})
			continue
		}
		s.cache.Insert(job.request.source.Key(), c)
		s.finish(job.request, &Completion{Content: c})
	}
}

func (s *Scheduler) decodeJob(job *decodeJob) (*content.TileContent, error) {
	source := job.request.source
	opts := s.decode
	opts.Attachments = job.attachments
	opts.I3S = source.I3S

	c, err := content.Decode(job.data, source.Format, &opts)
	if err != nil || c.ExternalGLTF == "" {
		return c, err
	}

	// instanced models may reference their glTF by uri
	gltfURL := fetch.Resolve(source.URL, c.ExternalGLTF)
	glb, err := s.fetch(job.request.ctx, gltfURL)
	if err != nil {
		return nil, err
	}
	glog.V(2).Infof("fetched external glTF %s", gltfURL)
	opts.Attachments = map[string][]byte{content.AttachmentGLTF: glb}
	return content.Decode(job.data, source.Format, &opts)
}
