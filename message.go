package main

const (
	PageTitle = "Deepfake Image Detector"

	MsgUploadPrompt = "Please upload an image to get a prediction."

	MsgUnsupportedType = "Unsupported file type. Please upload a JPG, JPEG or PNG image."

	MsgInvalidImage = "We couldn't read that image. Please upload a valid JPG or PNG file."

	MsgTooLarge = "That image is too large to upload. Please choose a smaller file."

	MsgBusy = "The detector is busy right now. Please try again in a moment."

	MsgPredictionFailed = "Something went wrong while analysing the image. Please try again."
)
