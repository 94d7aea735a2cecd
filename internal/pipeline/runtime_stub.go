//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newDecoder(limits DecodeLimits) (Decoder, error) {
	return stdlibDecoder{limits: limits}, nil
}
