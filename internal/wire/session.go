package wire

import "io"

// WriteHostToEnclave frames and writes one message for the host->enclave
// direction.
func WriteHostToEnclave(w io.Writer, msg HostToEnclaveMessage) error {
	data, err := EncodeHostToEnclave(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// ReadHostToEnclave reads and decodes one host->enclave message.
func ReadHostToEnclave(r io.Reader, maxSize int64) (HostToEnclaveMessage, error) {
	data, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return DecodeHostToEnclave(data)
}

// WriteEnclaveToHost frames and writes one message for the enclave->host
// direction.
func WriteEnclaveToHost(w io.Writer, msg EnclaveToHostMessage) error {
	data, err := EncodeEnclaveToHost(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// ReadEnclaveToHost reads and decodes one enclave->host message.
func ReadEnclaveToHost(r io.Reader, maxSize int64) (EnclaveToHostMessage, error) {
	data, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return DecodeEnclaveToHost(data)
}
