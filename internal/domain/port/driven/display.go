package driven

import "github.com/ericfisherdev/mytotp/internal/domain/model"

// Display defines the driven port for whatever shows the code list. Render is
// called from the device loop after every recomputation and must not block.
type Display interface {
	Render(frame model.DisplayFrame)
}
