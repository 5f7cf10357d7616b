package input

// KeyboardAndMouseCodec converts KeyboardAndMouseInput to and from its wire
// encoding.
type KeyboardAndMouseCodec struct{}

func (KeyboardAndMouseCodec) Encode(in KeyboardAndMouseInput) []byte {
	return in.AppendBinary(make([]byte, 0, KeyboardAndMouseSize))
}

func (KeyboardAndMouseCodec) Decode(data []byte) (KeyboardAndMouseInput, error) {
	var in KeyboardAndMouseInput
	err := in.UnmarshalBinary(data)
	return in, err
}

// GamepadCodec converts GamepadInput to and from its wire encoding.
type GamepadCodec struct{}

func (GamepadCodec) Encode(in GamepadInput) []byte {
	out, _ := in.MarshalBinary()
	return out
}

func (GamepadCodec) Decode(data []byte) (GamepadInput, error) {
	var in GamepadInput
	err := in.UnmarshalBinary(data)
	return in, err
}
